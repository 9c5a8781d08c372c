package types

import (
	"strings"
	"unicode/utf8"
)

// Request is one cell submitted for execution. It is not modified after construction.
type Request struct {
	Lines        []string `json:"lines"`
	Silent       bool     `json:"silent"`
	StoreHistory bool     `json:"store_history"`
}

// NewRequest splits source into lines, accepting both \n and \r\n endings.
func NewRequest(source string, silent, storeHistory bool) Request {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	return Request{
		Lines:        strings.Split(source, "\n"),
		Silent:       silent,
		StoreHistory: storeHistory,
	}
}

// Source joins the cell back into text.
func (r Request) Source() string {
	return strings.Join(r.Lines, "\n")
}

// Preview returns the first non-blank line, shortened for logs.
func (r Request) Preview() string {
	for _, line := range r.Lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 60 {
			cut := 57
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			return line[:cut] + "..."
		}
		return line
	}
	return ""
}
