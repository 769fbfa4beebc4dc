package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEllipsize(t *testing.T) {
	if got := ellipsize("kort", 80); got != "kort" {
		t.Errorf("short string changed: %q", got)
	}
	exact := strings.Repeat("x", 80)
	if got := ellipsize(exact, 80); got != exact {
		t.Errorf("string at the limit changed: %q", got)
	}

	long := strings.Repeat("x", 100)
	if got := ellipsize(long, 80); got != strings.Repeat("x", 80)+"..." {
		t.Errorf("ascii truncation = %q", got)
	}
}

func TestEllipsizeNeverSplitsRune(t *testing.T) {
	// Byte 80 lands in the middle of the two-byte ø; the cut must back up.
	s := strings.Repeat("a", 79) + "øvrige utgifter til strøm"

	got := ellipsize(s, 80)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if got != strings.Repeat("a", 79)+"..." {
		t.Errorf("got %q, want the cut backed up to the rune boundary", got)
	}
}
