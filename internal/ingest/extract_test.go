package ingest

import (
	"strings"
	"testing"
	"time"
)

var parseNow = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

func TestParseInvoiceFullDocument(t *testing.T) {
	text := strings.Join([]string{
		"Fjordkraft AS",
		"Faktura for strøm juli 2026",
		"Forfallsdato: 15.09.2026",
		"Å betale: 1 234,56 kr",
	}, "\n")

	inv, err := ParseInvoice(text, parseNow)
	if err != nil {
		t.Fatalf("ParseInvoice: %v", err)
	}

	if inv.Amount != 1234.56 {
		t.Errorf("amount = %v, want 1234.56", inv.Amount)
	}
	want := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	if !inv.DueDate.Equal(want) {
		t.Errorf("due date = %v, want %v", inv.DueDate, want)
	}
	if inv.Category != "strøm" {
		t.Errorf("category = %q, want strøm", inv.Category)
	}
	if inv.Name != "Fjordkraft AS" {
		t.Errorf("name = %q, want the first line", inv.Name)
	}
}

func TestParseInvoiceDefaults(t *testing.T) {
	inv, err := ParseInvoice("Kvittering\nkr 450,00", parseNow)
	if err != nil {
		t.Fatalf("ParseInvoice: %v", err)
	}
	if inv.Amount != 450 {
		t.Errorf("amount = %v", inv.Amount)
	}
	if !inv.DueDate.Equal(parseNow.AddDate(0, 0, 14)) {
		t.Errorf("due date = %v, want 14 days out", inv.DueDate)
	}
	if inv.Category != "annet" {
		t.Errorf("category = %q, want the annet default", inv.Category)
	}
}

func TestParseInvoiceRequiresAmount(t *testing.T) {
	if _, err := ParseInvoice("Hei, dette er ikke en faktura", parseNow); err == nil {
		t.Fatal("expected an error when no amount is present")
	}
}

func TestFindAmountPrefersLabeledTotal(t *testing.T) {
	// The bare kr amount is larger, but the labeled total wins.
	text := "Gebyr kr 9 999,00\nTotal: 512,50"
	got, ok := findAmount(text)
	if !ok || got != 512.50 {
		t.Errorf("amount = %v (ok=%v), want the labeled 512.50", got, ok)
	}
}

func TestFindAmountTakesLargestBareAmount(t *testing.T) {
	text := "Linje 1: kr 100,00\nLinje 2: NOK 2 500,00\nLinje 3: kr 75,50"
	got, ok := findAmount(text)
	if !ok || got != 2500 {
		t.Errorf("amount = %v (ok=%v), want the largest 2500", got, ok)
	}
}

func TestParseNorwegianAmount(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"1 234,56", 1234.56},
		{"1.234,56", 1234.56},
		{"450", 450},
		{"99,00", 99},
	}
	for _, c := range cases {
		got, err := parseNorwegianAmount(c.raw)
		if err != nil {
			t.Errorf("parseNorwegianAmount(%q): %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseNorwegianAmount(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestExtractHTMLSkipsScriptAndStyle(t *testing.T) {
	doc := `<html><head>
		<style>body { color: red }</style>
		<script>var tracking = "kr 99999,00";</script>
	</head><body>
		<h1>Vannverket</h1>
		<p>Å betale: 890,00</p>
	</body></html>`

	text, err := ExtractHTML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	if !strings.Contains(text, "Vannverket") || !strings.Contains(text, "890,00") {
		t.Errorf("text = %q, missing body content", text)
	}
	if strings.Contains(text, "tracking") || strings.Contains(text, "color") {
		t.Errorf("text = %q, script/style content leaked through", text)
	}
}
