package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk policy format.
type FileConfig struct {
	// Denylist replaces the default triggers unless ExtendDefaults is set.
	Denylist       []string `yaml:"denylist"`
	ExtendDefaults bool     `yaml:"extend_defaults"`
}

// LoadFile reads a YAML policy file. The trigger set is fixed for the lifetime
// of the returned Denylist.
func LoadFile(path string) (*Denylist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	triggers := cfg.Denylist
	if cfg.ExtendDefaults {
		triggers = append(append([]string(nil), DefaultTriggers...), triggers...)
	}
	if len(triggers) == 0 {
		return nil, fmt.Errorf("policy file %s defines no denylist entries", path)
	}
	return NewDenylist(triggers), nil
}

// Violation describes one rejected line in a Report.
type Violation struct {
	LineNumber int      `json:"line_number"`
	Line       string   `json:"line"`
	Triggers   []string `json:"triggers"`
}

// Report summarises a dry-run evaluation of a cell.
type Report struct {
	Checked    int         `json:"checked"`
	Violations []Violation `json:"violations"`
	Passed     bool        `json:"passed"`
}

// Evaluate screens every line of a cell without executing anything. Blank lines,
// comments and session commands are skipped the same way the worker skips them.
func Evaluate(e Enforcer, lines []string, commentPrefix, commandPrefix string) Report {
	report := Report{}
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, commentPrefix) || strings.HasPrefix(line, commandPrefix) {
			continue
		}
		report.Checked++
		if ok, triggers := e.Check(line); !ok {
			report.Violations = append(report.Violations, Violation{
				LineNumber: i + 1,
				Line:       line,
				Triggers:   triggers,
			})
		}
	}
	report.Passed = len(report.Violations) == 0
	return report
}
