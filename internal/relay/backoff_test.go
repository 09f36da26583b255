package relay

import (
	"testing"
	"time"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	t.Parallel()
	b := NewBackoff(time.Second, 30*time.Second)

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Errorf("attempt %d: delay = %v, want %v", i, got, w*time.Second)
		}
	}
}

func TestBackoff_ResetAfterSuccess(t *testing.T) {
	t.Parallel()
	b := NewBackoff(time.Second, 30*time.Second)
	b.Next()
	b.Next()
	b.Next()
	if b.AtInitial() {
		t.Fatal("AtInitial after three failures")
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("delay after reset = %v, want 1s", got)
	}
}

func TestBackoff_ZeroValueDefaults(t *testing.T) {
	t.Parallel()
	var b Backoff
	if got := b.Current(); got != time.Second {
		t.Errorf("Current = %v, want 1s", got)
	}
	for range 10 {
		b.Next()
	}
	if got := b.Current(); got != 30*time.Second {
		t.Errorf("Current after many failures = %v, want 30s", got)
	}
}

func TestBackoff_MaxBelowInitial(t *testing.T) {
	t.Parallel()
	b := NewBackoff(5*time.Second, time.Second)
	b.Next()
	if got := b.Next(); got != 5*time.Second {
		t.Errorf("delay = %v, want initial 5s", got)
	}
}
