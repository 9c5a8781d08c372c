package policy

import (
	"sort"
	"strings"
)

// Enforcer screens a single line of cell input before it reaches the interpreter.
type Enforcer interface {
	Check(line string) (allowed bool, triggers []string)
}

// Toggle reports whether screening is currently switched on.
type Toggle interface {
	PolicyEnabled() bool
}

// DefaultTriggers is the denylist applied when no policy file is configured.
// Matching is plain substring search, so structural entries such as f' and
// .format also reject ordinary string literals.
var DefaultTriggers = []string{
	"__",
	".format",
	"breakpoint",
	"compile(",
	"delattr",
	"eval",
	"exec",
	"f\"",
	"f'",
	"getattr",
	"globals",
	"import",
	"input(",
	"locals",
	"open(",
	"os.",
	"setattr",
	"subprocess",
	"sys.",
}

// Denylist rejects any line containing one of its trigger substrings.
// Matching is case-sensitive and untokenized.
type Denylist struct {
	triggers []string
}

func NewDenylist(triggers []string) *Denylist {
	seen := make(map[string]struct{}, len(triggers))
	out := make([]string, 0, len(triggers))
	for _, trigger := range triggers {
		if trigger == "" {
			continue
		}
		if _, ok := seen[trigger]; ok {
			continue
		}
		seen[trigger] = struct{}{}
		out = append(out, trigger)
	}
	sort.Strings(out)
	return &Denylist{triggers: out}
}

func Default() *Denylist {
	return NewDenylist(DefaultTriggers)
}

// Check returns every trigger found in line, not only the first.
func (d *Denylist) Check(line string) (bool, []string) {
	var hits []string
	for _, trigger := range d.triggers {
		if strings.Contains(line, trigger) {
			hits = append(hits, trigger)
		}
	}
	return len(hits) == 0, hits
}

// Triggers returns a copy of the configured trigger set.
func (d *Denylist) Triggers() []string {
	return append([]string(nil), d.triggers...)
}

type guarded struct {
	inner  Enforcer
	toggle Toggle
}

// Guard wraps e so that it allows everything, without scanning, while toggle is off.
func Guard(e Enforcer, toggle Toggle) Enforcer {
	return &guarded{inner: e, toggle: toggle}
}

func (g *guarded) Check(line string) (bool, []string) {
	if g.toggle != nil && !g.toggle.PolicyEnabled() {
		return true, nil
	}
	return g.inner.Check(line)
}
