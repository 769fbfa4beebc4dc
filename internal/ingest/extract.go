package ingest

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Invoice holds the fields pulled out of an imported bill document.
// Extraction is heuristic; the result is a draft the user reviews.
type Invoice struct {
	Name     string
	Amount   float64
	DueDate  time.Time
	Category string
}

// Norwegian invoices write amounts like "1 234,56" and label the total
// with one of these.
var (
	amountLabelRe = regexp.MustCompile(`(?i)(?:å betale|beløp|total|sum|amount due)\D{0,10}([\d][\d\s.]*(?:,\d{2})?)`)
	amountKrRe    = regexp.MustCompile(`(?i)(?:kr\.?|NOK)\s*([\d][\d\s.]*(?:,\d{2})?)`)
	dueDateRe     = regexp.MustCompile(`(?i)(?:forfall(?:sdato)?|betalingsfrist|due date)\D{0,10}(\d{1,2})[./-](\d{1,2})[./-](\d{4})`)
)

var categoryKeywords = map[string]string{
	"strøm":      "strøm",
	"kraft":      "strøm",
	"elektrisit": "strøm",
	"vann":       "vann",
	"avløp":      "vann",
	"husleie":    "husleie",
	"leie":       "husleie",
	"internett":  "internett",
	"bredbånd":   "internett",
	"forsikring": "forsikring",
	"mobil":      "telefon",
}

// ExtractPDF returns the plain text of a PDF invoice.
func ExtractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(data), nil
}

// ExtractHTML strips tags from an HTML invoice, skipping script and
// style bodies.
func ExtractHTML(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)
	var sb strings.Builder
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return sb.String(), nil
			}
			return "", fmt.Errorf("parsing html: %w", tokenizer.Err())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
	}
}

// ParseInvoice pulls a draft bill out of invoice text. An amount is
// required; a missing due date defaults to 14 days out and the category
// to "annet".
func ParseInvoice(text string, now time.Time) (Invoice, error) {
	inv := Invoice{Category: "annet"}

	amount, ok := findAmount(text)
	if !ok {
		return Invoice{}, fmt.Errorf("no amount found in document")
	}
	inv.Amount = amount

	if m := dueDateRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		inv.DueDate = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	} else {
		inv.DueDate = now.AddDate(0, 0, 14)
	}

	lower := strings.ToLower(text)
	for keyword, category := range categoryKeywords {
		if strings.Contains(lower, keyword) {
			inv.Category = category
			break
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			inv.Name = line
			break
		}
	}
	if inv.Name == "" {
		inv.Name = "Imported bill"
	}

	return inv, nil
}

// findAmount prefers a labeled total over bare kr amounts; among bare
// amounts it takes the largest, which on an invoice is the total.
func findAmount(text string) (float64, bool) {
	if m := amountLabelRe.FindStringSubmatch(text); m != nil {
		if v, err := parseNorwegianAmount(m[1]); err == nil {
			return v, true
		}
	}
	var best float64
	found := false
	for _, m := range amountKrRe.FindAllStringSubmatch(text, -1) {
		v, err := parseNorwegianAmount(m[1])
		if err != nil {
			continue
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	return best, found
}

func parseNorwegianAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	// "1.234,56" uses dots for thousands; "1234.56" does not.
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}
