// Package timers posts recurring messages to channels.
package timers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/telemetry"
)

// MinIntervalSeconds is the shortest allowed timer interval.
const MinIntervalSeconds = 10

var ErrIntervalTooShort = fmt.Errorf("timer interval must be at least %d seconds", MinIntervalSeconds)

type timerKey struct {
	channel string
	name    string
}

func newKey(channel, name string) timerKey {
	return timerKey{
		channel: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#")),
		name:    strings.ToLower(strings.TrimSpace(name)),
	}
}

// Engine runs one goroutine per active timer. Definitions live in the
// repository; the engine keeps a copy and the cancel func of each runner.
type Engine struct {
	repo   domain.MessageTimerRepository
	sender domain.ChatSender
	unit   time.Duration

	mu      sync.Mutex
	ctx     context.Context
	timers  map[timerKey]*domain.MessageTimer
	runners map[timerKey]context.CancelFunc
}

func NewEngine(repo domain.MessageTimerRepository, sender domain.ChatSender) *Engine {
	return &Engine{
		repo:    repo,
		sender:  sender,
		unit:    time.Second,
		timers:  make(map[timerKey]*domain.MessageTimer),
		runners: make(map[timerKey]context.CancelFunc),
	}
}

// SetUnit scales IntervalSeconds; tests use milliseconds.
func (e *Engine) SetUnit(unit time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unit = unit
}

// Start loads every stored timer and launches the active ones. Runners stop
// when ctx ends.
func (e *Engine) Start(ctx context.Context) error {
	var stored []*domain.MessageTimer
	if e.repo != nil {
		var err error
		if stored, err = e.repo.ListMessageTimers(ctx, ""); err != nil {
			return fmt.Errorf("timers: load: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx = ctx
	for _, t := range stored {
		k := newKey(t.Channel, t.Name)
		e.timers[k] = clone(t)
		if t.Active {
			e.launch(k)
		}
	}
	for k, t := range e.timers {
		if t.Active {
			e.launch(k)
		}
	}
	return nil
}

// Set validates and stores t, then starts, restarts or stops its runner to
// match t.Active.
func (e *Engine) Set(ctx context.Context, t *domain.MessageTimer) error {
	if t == nil {
		return fmt.Errorf("timers: nil timer")
	}
	k := newKey(t.Channel, t.Name)
	if k.name == "" || k.channel == "" {
		return fmt.Errorf("timers: channel and name are required")
	}
	if t.IntervalSeconds < MinIntervalSeconds {
		return ErrIntervalTooShort
	}
	if strings.TrimSpace(t.Message) == "" {
		return fmt.Errorf("timers: empty message")
	}
	record := clone(t)
	record.Channel, record.Name = k.channel, k.name

	if e.repo != nil {
		if err := e.repo.SaveMessageTimer(ctx, record); err != nil {
			return fmt.Errorf("timers: save %s/%s: %w", k.channel, k.name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.timers[k] = record
	e.stop(k)
	if record.Active {
		e.launch(k)
	}
	return nil
}

func (e *Engine) Get(ctx context.Context, channel, name string) (*domain.MessageTimer, error) {
	k := newKey(channel, name)
	e.mu.Lock()
	t, ok := e.timers[k]
	e.mu.Unlock()
	if ok {
		return clone(t), nil
	}
	if e.repo == nil {
		return nil, domain.ErrNotFound
	}
	t, err := e.repo.GetMessageTimer(ctx, k.channel, k.name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.timers[k] = clone(t)
	e.mu.Unlock()
	return t, nil
}

func (e *Engine) List(channel string) []*domain.MessageTimer {
	channel = newKey(channel, "").channel
	e.mu.Lock()
	out := make([]*domain.MessageTimer, 0, len(e.timers))
	for k, t := range e.timers {
		if channel == "" || k.channel == channel {
			out = append(out, clone(t))
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (e *Engine) Delete(ctx context.Context, channel, name string) error {
	k := newKey(channel, name)
	if e.repo != nil {
		if err := e.repo.DeleteMessageTimer(ctx, k.channel, k.name); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("timers: delete %s/%s: %w", k.channel, k.name, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.timers[k]; !ok {
		return domain.ErrNotFound
	}
	e.stop(k)
	delete(e.timers, k)
	return nil
}

func (e *Engine) update(ctx context.Context, channel, name string, fn func(t *domain.MessageTimer)) error {
	t, err := e.Get(ctx, channel, name)
	if err != nil {
		return err
	}
	fn(t)
	return e.Set(ctx, t)
}

func (e *Engine) Activate(ctx context.Context, channel, name string) error {
	return e.update(ctx, channel, name, func(t *domain.MessageTimer) { t.Active = true })
}

func (e *Engine) Deactivate(ctx context.Context, channel, name string) error {
	return e.update(ctx, channel, name, func(t *domain.MessageTimer) { t.Active = false })
}

// Restart cancels the runner and launches a fresh one, resetting the wait.
func (e *Engine) Restart(ctx context.Context, channel, name string) error {
	return e.Activate(ctx, channel, name)
}

func (e *Engine) SetInterval(ctx context.Context, channel, name string, seconds int) error {
	if seconds < MinIntervalSeconds {
		return ErrIntervalTooShort
	}
	return e.update(ctx, channel, name, func(t *domain.MessageTimer) { t.IntervalSeconds = seconds })
}

func (e *Engine) SetMessage(ctx context.Context, channel, name, message string) error {
	return e.update(ctx, channel, name, func(t *domain.MessageTimer) { t.Message = message })
}

// Running reports whether the timer has a live runner.
func (e *Engine) Running(channel, name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runners[newKey(channel, name)]
	return ok
}

// Stop cancels every runner. Definitions stay stored.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.runners {
		e.stop(k)
	}
}

// launch starts the runner for k. Before Start it is a no-op; Start launches
// whatever is active by then. Callers hold e.mu.
func (e *Engine) launch(k timerKey) {
	if e.ctx == nil {
		return
	}
	if _, running := e.runners[k]; running {
		return
	}
	t := clone(e.timers[k])
	ctx, cancel := context.WithCancel(e.ctx)
	e.runners[k] = cancel
	telemetry.SetActiveTimers(len(e.runners))
	go e.run(ctx, t, time.Duration(t.IntervalSeconds)*e.unit)
}

func (e *Engine) stop(k timerKey) {
	if cancel, ok := e.runners[k]; ok {
		cancel()
		delete(e.runners, k)
		telemetry.SetActiveTimers(len(e.runners))
	}
}

func (e *Engine) run(ctx context.Context, t *domain.MessageTimer, interval time.Duration) {
	log := logger.Channel(t.Channel).With("timer", t.Name)
	log.Debug("timer started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("timer stopped")
			return
		case <-ticker.C:
			if err := e.sender.Say(ctx, t.Channel, t.Message); err != nil && ctx.Err() == nil {
				log.Warn("timer message not sent", "error", err)
			}
		}
	}
}

func clone(t *domain.MessageTimer) *domain.MessageTimer {
	c := *t
	return &c
}
