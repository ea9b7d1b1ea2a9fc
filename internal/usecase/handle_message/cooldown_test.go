package handle_message

import (
	"testing"
	"time"
)

func TestCooldownLedger(t *testing.T) {
	l := NewCooldownLedger()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, on := l.Remaining("demo", "!ping", 5*time.Second, t0); on {
		t.Fatal("fresh ledger should not block")
	}
	l.Mark("Demo", "!PING", t0)

	tests := []struct {
		name     string
		cooldown time.Duration
		elapsed  time.Duration
		on       bool
		left     time.Duration
	}{
		{"inside", 5 * time.Second, 1500 * time.Millisecond, true, 3500 * time.Millisecond},
		{"boundary", 5 * time.Second, 5 * time.Second, false, 0},
		{"after", 5 * time.Second, 6 * time.Second, false, 0},
		{"zero cooldown", 0, 0, false, 0},
	}
	for _, tt := range tests {
		left, on := l.Remaining("demo", "!ping", tt.cooldown, t0.Add(tt.elapsed))
		if on != tt.on || left != tt.left {
			t.Fatalf("%s: got %v,%v want %v,%v", tt.name, left, on, tt.left, tt.on)
		}
	}

	if _, on := l.Remaining("other", "!ping", 5*time.Second, t0); on {
		t.Fatal("cooldowns are per channel")
	}
}
