package handle_message

import (
	"strings"
	"sync"
	"time"
)

type cooldownKey struct {
	channel string
	command string
}

// CooldownLedger records when each command last ran per channel.
type CooldownLedger struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

func NewCooldownLedger() *CooldownLedger {
	return &CooldownLedger{last: make(map[cooldownKey]time.Time)}
}

func newCooldownKey(channel, command string) cooldownKey {
	return cooldownKey{channel: strings.ToLower(channel), command: strings.ToLower(command)}
}

// Remaining reports how long command stays on cooldown. A cooldown <= 0
// never blocks.
func (l *CooldownLedger) Remaining(channel, command string, cooldown time.Duration, now time.Time) (time.Duration, bool) {
	if cooldown <= 0 {
		return 0, false
	}
	l.mu.Lock()
	last, ok := l.last[newCooldownKey(channel, command)]
	l.mu.Unlock()
	if !ok {
		return 0, false
	}
	left := cooldown - now.Sub(last)
	if left <= 0 {
		return 0, false
	}
	return left, true
}

func (l *CooldownLedger) Mark(channel, command string, at time.Time) {
	l.mu.Lock()
	l.last[newCooldownKey(channel, command)] = at
	l.mu.Unlock()
}

// Last returns the recorded execution time, zero when none.
func (l *CooldownLedger) Last(channel, command string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last[newCooldownKey(channel, command)]
}
