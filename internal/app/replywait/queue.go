// Package replywait lets a handler pause until a later chat event satisfies
// a predicate.
package replywait

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/telemetry"
)

var (
	ErrTimeout = errors.New("reply wait timed out")
	// ErrPredicatePanic is returned by Wait when its predicate panicked.
	ErrPredicatePanic = errors.New("reply wait predicate panicked")
)

const DefaultSweepInterval = 100 * time.Millisecond

type Predicate func(ev *domain.ChatEvent) bool

type Options struct {
	// Default is returned on timeout unless ErrorOnTimeout is set.
	Default        *domain.ChatEvent
	ErrorOnTimeout bool
}

type entry struct {
	pred Predicate
	ch   chan *domain.ChatEvent
	done atomic.Bool
	err  error
}

// complete claims the entry; only the first caller wins.
func (e *entry) complete() bool {
	return e.done.CompareAndSwap(false, true)
}

// receive reads the delivered event. err is written before the send, so it
// is visible once the channel yields.
func (e *entry) receive(ev *domain.ChatEvent) (*domain.ChatEvent, error) {
	if e.err != nil {
		return nil, e.err
	}
	return ev, nil
}

// matches runs the predicate. A panic claims the entry and fails its waiter
// instead of reaching the caller of Offer.
func (e *entry) matches(ev *domain.ChatEvent) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			telemetry.HandlerPanic()
			logger.Service("replywait").Error("predicate panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			if e.complete() {
				e.err = fmt.Errorf("%w: %v", ErrPredicatePanic, r)
				e.ch <- nil
			}
		}
	}()
	return e.pred(ev)
}

type Queue struct {
	mu      sync.Mutex
	entries []*entry
}

func New() *Queue {
	return &Queue{}
}

// Run sweeps completed entries every interval until ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

func (q *Queue) sweep() {
	q.mu.Lock()
	defer q.mu.Unlock()
	live := q.entries[:0]
	for _, e := range q.entries {
		if !e.done.Load() {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = live
}

// Len counts entries not yet swept, completed or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Wait blocks until an offered event satisfies pred, the timeout elapses or
// ctx ends. A zero timeout waits on ctx alone.
func (q *Queue) Wait(ctx context.Context, pred Predicate, timeout time.Duration, opts Options) (*domain.ChatEvent, error) {
	e := &entry{pred: pred, ch: make(chan *domain.ChatEvent, 1)}
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ev := <-e.ch:
		return e.receive(ev)
	case <-expired:
		if !e.complete() {
			return e.receive(<-e.ch)
		}
		if opts.ErrorOnTimeout {
			return nil, ErrTimeout
		}
		return opts.Default, nil
	case <-ctx.Done():
		if !e.complete() {
			return e.receive(<-e.ch)
		}
		return nil, ctx.Err()
	}
}

// Offer completes every live entry whose predicate matches ev. Each entry
// receives at most one event. A predicate that panics completes its own
// entry with ErrPredicatePanic and never runs again.
func (q *Queue) Offer(ev *domain.ChatEvent) int {
	if ev == nil {
		return 0
	}
	q.mu.Lock()
	snapshot := append([]*entry(nil), q.entries...)
	q.mu.Unlock()

	matched := 0
	for _, e := range snapshot {
		if e.done.Load() || !e.matches(ev) {
			continue
		}
		if e.complete() {
			e.ch <- ev
			matched++
		}
	}
	return matched
}

// SameAuthor matches a reply from the author of ev in the same channel whose
// content differs from ev's.
func SameAuthor(ev *domain.ChatEvent) Predicate {
	return func(next *domain.ChatEvent) bool {
		return next.UserAuthored() &&
			next.Author == ev.Author &&
			next.Channel == ev.Channel &&
			next.Content != ev.Content
	}
}
