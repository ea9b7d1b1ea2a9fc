// Package workers runs detached handler tasks on a fixed set of goroutines
// fed by a bounded queue.
package workers

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/telemetry"
)

const (
	DefaultLimit = 64
	// DefaultQueueFactor sizes the queue as a multiple of the worker count
	// when no explicit size is given.
	DefaultQueueFactor = 16
)

type task struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context)
}

// Pool runs tasks on limit worker goroutines. Go never blocks the caller:
// a full queue drops the task and counts it, so the goroutine count stays
// fixed under an event storm.
type Pool struct {
	queue chan task
	wg    sync.WaitGroup // scheduled tasks not yet finished or dropped
	limit int

	mu     sync.RWMutex
	closed bool

	running atomic.Int64
	panics  atomic.Int64
	dropped atomic.Int64
}

// New starts limit workers behind a queue of queueSize pending tasks.
// Non-positive values take the defaults.
func New(limit, queueSize int) *Pool {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if queueSize <= 0 {
		queueSize = limit * DefaultQueueFactor
	}
	p := &Pool{queue: make(chan task, queueSize), limit: limit}
	for i := 0; i < limit; i++ {
		go p.work()
	}
	return p
}

// Go queues fn and reports whether it was accepted. A task whose ctx has
// ended by the time a worker picks it up is dropped without running.
func (p *Pool) Go(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(name, "closed")
		return false
	}
	p.wg.Add(1)
	select {
	case p.queue <- task{ctx: ctx, name: name, fn: fn}:
		return true
	default:
		p.wg.Done()
		p.drop(name, "queue full")
		return false
	}
}

func (p *Pool) drop(name, reason string) {
	p.dropped.Add(1)
	telemetry.TaskDropped(reason)
	logger.Service("workers").Warn("task dropped", "task", name, "reason", reason)
}

func (p *Pool) work() {
	for t := range p.queue {
		if t.ctx.Err() != nil {
			p.wg.Done()
			continue
		}
		p.running.Add(1)
		p.run(t)
		p.running.Add(-1)
		p.wg.Done()
	}
}

func (p *Pool) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			telemetry.HandlerPanic()
			logger.Service("workers").Error("task panicked",
				"task", t.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	t.fn(t.ctx)
}

// Close stops accepting tasks. Queued tasks still run, then the workers
// exit. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Running reports tasks currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Queued reports tasks waiting for a worker.
func (p *Pool) Queued() int { return len(p.queue) }

func (p *Pool) Panics() int64 { return p.panics.Load() }

func (p *Pool) Dropped() int64 { return p.dropped.Load() }

func (p *Pool) Limit() int { return p.limit }

// Wait blocks until every accepted task returned or timeout elapsed. It
// reports whether the pool drained.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
