package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/pengeplan/internal/config"
)

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan <user-id>",
	Short: "Run the planning pipeline for a user",
	Long: `Run the planning pipeline for a user.

Examples:
  pengeplan plan kari
  pengeplan plan kari --entry-point guardian_assist`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entryPoint, _ := cmd.Flags().GetString("entry-point")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/runs", map[string]string{
			"user_id":     args[0],
			"entry_point": entryPoint,
		})
		if err != nil {
			return err
		}

		var result struct {
			RunID       string            `json:"run_id"`
			Status      string            `json:"status"`
			Confidence  int               `json:"confidence"`
			ImpactScore float64           `json:"impact_score"`
			Suggestions []json.RawMessage `json:"suggestions"`
			Blocked     []json.RawMessage `json:"blocked"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Run %s finished: %s", result.RunID, result.Status)
		printStatus("Suggestions", "%d (%d blocked)", len(result.Suggestions), len(result.Blocked))
		printStatus("Confidence", "%d", result.Confidence)
		printStatus("Impact score", "%.2f", result.ImpactScore)

		for _, raw := range result.Suggestions {
			var s struct {
				Kind      string `json:"kind"`
				Reasoning string `json:"reasoning"`
			}
			if json.Unmarshal(raw, &s) == nil {
				fmt.Printf("  %s  %s\n", colorize(colorBold, s.Kind), s.Reasoning)
			}
		}
		return nil
	},
}

func init() {
	planCmd.Flags().String("entry-point", "user_assist", "entry point (user_assist, guardian_assist, admin_trigger)")
}

// --- suggestions ---

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "List and review suggestions",
}

var suggestionsListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List recent suggestions for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/suggestions?user_id=%s&limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var suggestions []struct {
			ID         string `json:"id"`
			Kind       string `json:"kind"`
			Reasoning  string `json:"reasoning"`
			Confidence int    `json:"confidence"`
			Status     string `json:"status"`
			RiskLevel  string `json:"risk_level"`
		}
		if err := decodeJSON(resp, &suggestions); err != nil {
			return err
		}

		if len(suggestions) == 0 {
			fmt.Println("No suggestions found.")
			return nil
		}

		for _, s := range suggestions {
			reasoning := ellipsize(s.Reasoning, 80)
			fmt.Printf("%s  %-20s %-8s conf=%-3d %s\n",
				colorize(colorCyan, s.ID[:8]),
				s.Kind,
				s.Status,
				s.Confidence,
				reasoning,
			)
		}
		return nil
	},
}

var suggestionsReviewCmd = &cobra.Command{
	Use:   "review <id> <applied|rejected>",
	Short: "Mark a suggestion as applied or rejected",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/suggestions/"+args[0]+"/review", map[string]string{
			"status": args[1],
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Suggestion %s marked %s", args[0], result["status"])
		return nil
	},
}

func init() {
	suggestionsListCmd.Flags().Int("limit", 20, "maximum number of suggestions to list")
	suggestionsCmd.AddCommand(suggestionsListCmd)
	suggestionsCmd.AddCommand(suggestionsReviewCmd)
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregated run metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		windowDays, _ := cmd.Flags().GetInt("window-days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/metrics?window_days=%d", windowDays))
		if err != nil {
			return err
		}

		var m any
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

func init() {
	metricsCmd.Flags().Int("window-days", 0, "aggregation window in days (default 7)")
}

// --- snapshot ---

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Maintain the snapshot data the pipeline plans from",
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <resource> <file>",
	Short: "Import snapshot records from a JSON file",
	Long: `Import snapshot records from a JSON file holding either a single
object or an array of objects.

Resources: profile, budget, bills, debts, goals, policies

Examples:
  pengeplan snapshot import profile profile.json
  pengeplan snapshot import bills bills.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resource, file := args[0], args[1]
		path, ok := snapshotPaths[resource]
		if !ok {
			return fmt.Errorf("unknown resource %q (want one of: %s)", resource, strings.Join(snapshotResources(), ", "))
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			// Not an array; treat as a single object.
			records = []json.RawMessage{json.RawMessage(data)}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		for _, rec := range records {
			var body any
			if err := json.Unmarshal(rec, &body); err != nil {
				return fmt.Errorf("invalid JSON record: %w", err)
			}
			resp, err := client.post(cmd.Context(), path, body)
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
		}

		printSuccess("Imported %d %s record(s)", len(records), resource)
		return nil
	},
}

var snapshotImportBillCmd = &cobra.Command{
	Use:   "import-bill <user-id>",
	Short: "Queue a bill document (PDF or HTML) for import",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		url, _ := cmd.Flags().GetString("url")
		format, _ := cmd.Flags().GetString("format")

		if file == "" && url == "" {
			return fmt.Errorf("one of --file or --url is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/snapshot/bills/import", map[string]string{
			"user_id": args[0],
			"path":    file,
			"url":     url,
			"format":  format,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued bill import job %s", result["id"])
		return nil
	},
}

var snapshotPaths = map[string]string{
	"profile":  "/snapshot/profile",
	"budget":   "/snapshot/budget",
	"bills":    "/snapshot/bills",
	"debts":    "/snapshot/debts",
	"goals":    "/snapshot/goals",
	"policies": "/snapshot/policies",
}

func snapshotResources() []string {
	return []string{"profile", "budget", "bills", "debts", "goals", "policies"}
}

func init() {
	snapshotImportBillCmd.Flags().String("file", "", "local document path")
	snapshotImportBillCmd.Flags().String("url", "", "document URL (HTML only)")
	snapshotImportBillCmd.Flags().String("format", "pdf", "document format (pdf or html)")
	snapshotCmd.AddCommand(snapshotImportCmd)
	snapshotCmd.AddCommand(snapshotImportBillCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
