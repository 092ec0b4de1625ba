package backoff

import (
	"testing"
	"time"
)

func TestExponentialDelay_Growth(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 2 * time.Second

	// delay(i) = min(b * 2^(i-1), c)
	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		2 * time.Second,
		2 * time.Second,
	}

	for i, want := range expected {
		attempt := i + 1
		got := ExponentialDelay(base, maxDelay, attempt)
		if got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestExponentialDelay_LargeAttemptDoesNotOverflow(t *testing.T) {
	got := ExponentialDelay(time.Second, 30*time.Second, 200)
	if got != 30*time.Second {
		t.Errorf("expected cap 30s, got %v", got)
	}
}

func TestExponentialDelay_ZeroAttempt(t *testing.T) {
	got := ExponentialDelay(time.Second, time.Minute, 0)
	if got != time.Second {
		t.Errorf("expected base delay for attempt 0, got %v", got)
	}
}

func TestPolicy_Fixed(t *testing.T) {
	p := Policy{Kind: Fixed, Base: 250 * time.Millisecond, Max: time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := p.Delay(attempt); got != 250*time.Millisecond {
			t.Errorf("attempt %d: expected 250ms, got %v", attempt, got)
		}
	}
}

func TestPolicy_Defaults(t *testing.T) {
	p := Policy{}
	if got := p.Delay(1); got != DefaultBase {
		t.Errorf("expected %v, got %v", DefaultBase, got)
	}
	if got := p.Delay(10); got != DefaultMax {
		t.Errorf("expected %v, got %v", DefaultMax, got)
	}
}

func TestParseKind(t *testing.T) {
	if ParseKind("fixed") != Fixed {
		t.Error("fixed should parse to Fixed")
	}
	if ParseKind("exponential") != Exponential {
		t.Error("exponential should parse to Exponential")
	}
	if ParseKind("whatever") != Exponential {
		t.Error("unknown kind should fall back to Exponential")
	}
}
