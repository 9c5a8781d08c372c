package limiter

import (
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestAdmitUpToLimit(t *testing.T) {
	l := New(10)
	for i := 0; i < 10; i++ {
		if !l.TryAdmit() {
			t.Fatalf("admission %d rejected below limit", i+1)
		}
	}
	if l.TryAdmit() {
		t.Fatalf("11th admission must be rejected")
	}
	if l.InFlight() != 10 {
		t.Fatalf("expected 10 in flight, got %d", l.InFlight())
	}
	l.Release()
	if !l.TryAdmit() {
		t.Fatalf("expected admission after release")
	}
}

func TestConcurrentAdmissionNeverExceedsLimit(t *testing.T) {
	const limit = 5
	l := New(limit)
	var admitted atomic.Int64

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			if l.TryAdmit() {
				admitted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if admitted.Load() != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted.Load())
	}
}

func TestReleaseWithoutAdmitPanics(t *testing.T) {
	l := New(1)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
		if l.InFlight() != 0 {
			t.Fatalf("in-flight count drifted to %d", l.InFlight())
		}
	}()
	l.Release()
}

func TestNonPositiveLimitDefaultsToOne(t *testing.T) {
	l := New(0)
	if l.Limit() != 1 || !l.TryAdmit() || l.TryAdmit() {
		t.Fatalf("expected single-slot limiter")
	}
}
