package resource

import "testing"

type fakeMonitor struct {
	current, limit uint64
	ok              bool
}

func (f fakeMonitor) FDLimit() (uint64, uint64, bool) { return f.current, f.limit, f.ok }

func TestWarnIfLow_WarnsAboveRatio(t *testing.T) {
	m := fakeMonitor{current: 750, limit: 1000, ok: true}
	shouldWarn, current, limit := WarnIfLow(m, 100, 0.8)
	if !shouldWarn {
		t.Fatal("expected warning: (750+100)/1000 = 0.85 > 0.8")
	}
	if current != 750 || limit != 1000 {
		t.Fatalf("unexpected current/limit: %d/%d", current, limit)
	}
}

func TestWarnIfLow_NoWarningBelowRatio(t *testing.T) {
	m := fakeMonitor{current: 100, limit: 1000, ok: true}
	shouldWarn, _, _ := WarnIfLow(m, 50, 0.8)
	if shouldWarn {
		t.Fatal("expected no warning: (100+50)/1000 = 0.15 < 0.8")
	}
}

func TestWarnIfLow_UnavailableNeverWarns(t *testing.T) {
	m := fakeMonitor{ok: false}
	shouldWarn, _, _ := WarnIfLow(m, 1_000_000, 0.8)
	if shouldWarn {
		t.Fatal("expected no warning when the platform query is unavailable")
	}
}

func TestWarnIfLow_ZeroLimitNeverWarns(t *testing.T) {
	m := fakeMonitor{current: 5, limit: 0, ok: true}
	shouldWarn, _, _ := WarnIfLow(m, 5, 0.8)
	if shouldWarn {
		t.Fatal("expected no warning for a zero limit")
	}
}
