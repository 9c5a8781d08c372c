package policy

import (
	"reflect"
	"testing"
)

type staticToggle bool

func (s staticToggle) PolicyEnabled() bool { return bool(s) }

func TestDefaultPolicyRejectsImport(t *testing.T) {
	p := Default()
	ok, triggers := p.Check("import os")
	if ok {
		t.Fatalf("expected import to be rejected")
	}
	if !contains(triggers, "import") {
		t.Fatalf("expected triggers to include import, got %v", triggers)
	}
}

func TestCheckReturnsAllTriggers(t *testing.T) {
	p := NewDenylist([]string{"eval", "exec", "open("})
	ok, triggers := p.Check("eval(exec(open('x')))")
	if ok {
		t.Fatalf("expected rejection")
	}
	want := []string{"eval", "exec", "open("}
	if !reflect.DeepEqual(triggers, want) {
		t.Fatalf("expected %v, got %v", want, triggers)
	}
}

func TestCheckIsCaseSensitiveSubstring(t *testing.T) {
	p := NewDenylist([]string{"import"})
	if ok, _ := p.Check("IMPORT data"); !ok {
		t.Fatalf("expected upper-case variant to pass")
	}
	if ok, _ := p.Check("reimported <- 1"); ok {
		t.Fatalf("expected substring inside identifier to be rejected")
	}
}

func TestFormatColumnFalsePositive(t *testing.T) {
	p := Default()
	if ok, triggers := p.Check("summary(df.format)"); ok {
		t.Fatalf("expected .format substring to be rejected")
	} else if !contains(triggers, ".format") {
		t.Fatalf("expected .format trigger, got %v", triggers)
	}
}

func TestBenignLineAllowed(t *testing.T) {
	p := Default()
	if ok, triggers := p.Check("summary(mtcars$mpg)"); !ok {
		t.Fatalf("expected benign line to pass, got %v", triggers)
	}
}

func TestNewDenylistDropsEmptyAndDuplicates(t *testing.T) {
	p := NewDenylist([]string{"", "b", "a", "b"})
	if got := p.Triggers(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected triggers %v", got)
	}
	if ok, _ := p.Check("anything"); !ok {
		t.Fatalf("empty trigger must not match everything")
	}
}

func TestGuardDisabledAllowsEverything(t *testing.T) {
	g := Guard(Default(), staticToggle(false))
	for _, line := range []string{"import os", "__class__", "eval('1')", "f'{x}'"} {
		ok, triggers := g.Check(line)
		if !ok || len(triggers) != 0 {
			t.Fatalf("expected %q allowed with policy disabled, got %v %v", line, ok, triggers)
		}
	}
}

func TestGuardEnabledDelegates(t *testing.T) {
	g := Guard(Default(), staticToggle(true))
	if ok, _ := g.Check("import os"); ok {
		t.Fatalf("expected rejection with policy enabled")
	}
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
