package channel

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	base := 1000 * time.Millisecond
	cap := 30000 * time.Millisecond

	expected := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}

	for attempts, want := range expected {
		got := backoffDelay(attempts, base, cap)
		if got != want {
			t.Errorf("Attempt %d: expected delay %v, got %v", attempts, want, got)
		}
	}
}

func TestBackoffDelayOverflow(t *testing.T) {
	// Absurd attempt counts must clamp to the cap, not wrap around.
	got := backoffDelay(300, time.Second, 30*time.Second)
	if got != 30*time.Second {
		t.Errorf("Expected cap for overflowing attempts, got %v", got)
	}
}
