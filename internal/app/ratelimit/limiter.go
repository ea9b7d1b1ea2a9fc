// Package ratelimit gates outbound chat lines by Twitch's message limits.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"twitchbot/internal/infrastructure/telemetry"
)

type Config struct {
	PrivmsgWindow   time.Duration
	PrivmsgLimit    int
	PrivilegedLimit int
	WhisperWindow   time.Duration
	WhisperLimit    int
	// MinGap is the minimum spacing between sends on a non-privileged
	// channel; zero disables it.
	MinGap time.Duration
}

func DefaultConfig() Config {
	return Config{
		PrivmsgWindow:   30 * time.Second,
		PrivmsgLimit:    20,
		PrivilegedLimit: 100,
		WhisperWindow:   time.Second,
		WhisperLimit:    10,
		MinGap:          time.Second,
	}
}

// PrivilegeFunc reports whether the bot is moderator, vip or broadcaster in
// channel.
type PrivilegeFunc func(channel string) bool

type waiter struct {
	limit int
	ready chan struct{}
}

// window is a counter reset by its loop, with FIFO waiters.
type window struct {
	count   int
	waiters []*waiter
}

type Limiter struct {
	cfg        Config
	privileged PrivilegeFunc

	mu      sync.Mutex
	privmsg window
	whisper window
	gaps    map[string]*rate.Limiter
}

func New(cfg Config, privileged PrivilegeFunc) *Limiter {
	if privileged == nil {
		privileged = func(string) bool { return false }
	}
	return &Limiter{
		cfg:        cfg,
		privileged: privileged,
		gaps:       make(map[string]*rate.Limiter),
	}
}

// Run owns both reset loops until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	privmsgTick := time.NewTicker(l.cfg.PrivmsgWindow)
	defer privmsgTick.Stop()
	whisperTick := time.NewTicker(l.cfg.WhisperWindow)
	defer whisperTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-privmsgTick.C:
			l.reset(&l.privmsg)
		case <-whisperTick.C:
			l.reset(&l.whisper)
		}
	}
}

func (l *Limiter) reset(w *window) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w.count = 0
	w.grantLocked()
}

// release returns a slot taken by a send that never happened.
func (l *Limiter) release(w *window) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.count > 0 {
		w.count--
	}
	w.grantLocked()
}

// grantLocked hands free slots to waiters in arrival order. l.mu must be held.
func (w *window) grantLocked() {
	for len(w.waiters) > 0 {
		head := w.waiters[0]
		if w.count >= head.limit {
			break
		}
		w.count++
		close(head.ready)
		w.waiters = w.waiters[1:]
	}
}

// AcquirePrivmsg blocks until a line may be sent to channel.
func (l *Limiter) AcquirePrivmsg(ctx context.Context, channel string) error {
	start := time.Now()
	defer func() { telemetry.ObserveRateLimitWait("privmsg", time.Since(start)) }()

	channel = strings.ToLower(channel)
	privileged := l.privileged(channel)
	limit := l.cfg.PrivmsgLimit
	if privileged {
		limit = l.cfg.PrivilegedLimit
	}
	if err := l.acquire(ctx, &l.privmsg, limit); err != nil {
		return err
	}
	if privileged || l.cfg.MinGap <= 0 {
		return nil
	}
	if err := l.gap(channel).Wait(ctx); err != nil {
		l.release(&l.privmsg)
		return err
	}
	return nil
}

// AcquireWhisper blocks until a whisper may be sent. The bucket is global.
func (l *Limiter) AcquireWhisper(ctx context.Context) error {
	start := time.Now()
	defer func() { telemetry.ObserveRateLimitWait("whisper", time.Since(start)) }()
	return l.acquire(ctx, &l.whisper, l.cfg.WhisperLimit)
}

func (l *Limiter) acquire(ctx context.Context, w *window, limit int) error {
	l.mu.Lock()
	if len(w.waiters) == 0 && w.count < limit {
		w.count++
		l.mu.Unlock()
		return nil
	}
	me := &waiter{limit: limit, ready: make(chan struct{})}
	w.waiters = append(w.waiters, me)
	l.mu.Unlock()

	select {
	case <-me.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		defer l.mu.Unlock()
		select {
		case <-me.ready:
			// granted while cancelling; the slot is already counted
			return nil
		default:
		}
		for i, other := range w.waiters {
			if other == me {
				w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
				break
			}
		}
		return ctx.Err()
	}
}

func (l *Limiter) gap(channel string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.gaps[channel]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.cfg.MinGap), 1)
		l.gaps[channel] = lim
	}
	return lim
}

// Pending reports the queued waiters, for tests and metrics.
func (l *Limiter) Pending() (privmsg, whisper int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.privmsg.waiters), len(l.whisper.waiters)
}
