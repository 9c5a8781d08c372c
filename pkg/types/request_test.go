package types

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewRequestSplitsLines(t *testing.T) {
	req := NewRequest("a <- 1\r\nb <- 2\n", false, true)
	if len(req.Lines) != 3 || req.Lines[1] != "b <- 2" {
		t.Fatalf("unexpected lines %q", req.Lines)
	}
	if req.Source() != "a <- 1\nb <- 2\n" {
		t.Fatalf("unexpected source %q", req.Source())
	}
}

func TestPreviewKeepsRunesWhole(t *testing.T) {
	req := NewRequest("\n"+strings.Repeat("é", 40), false, false)
	preview := req.Preview()
	if !utf8.ValidString(preview) {
		t.Fatalf("preview split a rune: %q", preview)
	}
	if !strings.HasSuffix(preview, "...") || len(preview) > 60 {
		t.Fatalf("expected shortened preview, got %q", preview)
	}
}
