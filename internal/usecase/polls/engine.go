// Package polls runs chat polls: one vote per user, closed by a periodic
// sweeper once their duration has elapsed.
package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hako/durafmt"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/telemetry"
)

const DefaultSweepInterval = 2 * time.Second

var (
	ErrPollNotFound  = errors.New("poll not found")
	ErrAlreadyVoted  = errors.New("already voted")
	ErrInvalidChoice = errors.New("invalid choice")
)

// Notifier is told when polls start and end.
type Notifier interface {
	PollStarted(ctx context.Context, p *domain.Poll)
	PollEnded(ctx context.Context, p *domain.Poll)
}

type Engine struct {
	sender   domain.ChatSender
	notifier Notifier
	prefix   string
	now      func() time.Time

	mu     sync.Mutex
	nextID int64
	active map[string][]*domain.Poll
}

func NewEngine(sender domain.ChatSender, notifier Notifier, prefix string) *Engine {
	return &Engine{
		sender:   sender,
		notifier: notifier,
		prefix:   prefix,
		now:      time.Now,
		active:   make(map[string][]*domain.Poll),
	}
}

func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

func channelKey(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

func (e *Engine) count() int {
	n := 0
	for _, list := range e.active {
		n += len(list)
	}
	return n
}

// Start opens a poll, notifies and announces it.
func (e *Engine) Start(ctx context.Context, channel, owner, title string, choices []string, duration time.Duration) (*domain.Poll, error) {
	channel = channelKey(channel)
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("polls: empty title")
	}
	if len(choices) < 2 {
		return nil, fmt.Errorf("polls: need at least two choices")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("polls: duration must be positive")
	}

	e.mu.Lock()
	e.nextID++
	p := &domain.Poll{
		ID:        e.nextID,
		Channel:   channel,
		Owner:     strings.ToLower(owner),
		Title:     title,
		Choices:   append([]string(nil), choices...),
		Votes:     make(map[string]int),
		StartedAt: e.now(),
		Duration:  duration,
	}
	e.active[channel] = append(e.active[channel], p)
	telemetry.SetActivePolls(e.count())
	notifier := e.notifier
	snapshot := p.Clone()
	e.mu.Unlock()

	if notifier != nil {
		notifier.PollStarted(ctx, snapshot)
	}
	e.announce(ctx, channel, startMessage(snapshot, e.prefix))
	return snapshot, nil
}

func startMessage(p *domain.Poll, prefix string) string {
	opts := make([]string, len(p.Choices))
	for i, c := range p.Choices {
		opts[i] = fmt.Sprintf("%d) %s", i+1, c)
	}
	return fmt.Sprintf("Poll #%d: %s | %s | vote with %svote %d <choice> (%s)",
		p.ID, p.Title, strings.Join(opts, " "), prefix, p.ID,
		durafmt.Parse(p.Duration).LimitFirstN(2).String())
}

func (e *Engine) find(channel string, id int64) (*domain.Poll, bool) {
	for _, p := range e.active[channel] {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Vote records user's choice, numbered from 1.
func (e *Engine) Vote(channel string, id int64, user string, choice int) error {
	channel = channelKey(channel)
	user = strings.ToLower(user)
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.find(channel, id)
	if !ok || p.Done(e.now()) {
		return ErrPollNotFound
	}
	if choice < 1 || choice > len(p.Choices) {
		return fmt.Errorf("%w: pick 1 to %d", ErrInvalidChoice, len(p.Choices))
	}
	if _, voted := p.Votes[user]; voted {
		return ErrAlreadyVoted
	}
	p.Votes[user] = choice - 1
	return nil
}

func (e *Engine) Get(channel string, id int64) (*domain.Poll, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.find(channelKey(channel), id)
	if !ok {
		return nil, ErrPollNotFound
	}
	return p.Clone(), nil
}

func (e *Engine) Active(channel string) []*domain.Poll {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.active[channelKey(channel)]
	out := make([]*domain.Poll, 0, len(list))
	for _, p := range list {
		out = append(out, p.Clone())
	}
	return out
}

// Run sweeps finished polls every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
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
			e.Sweep(ctx)
		}
	}
}

// Sweep ends every poll whose elapsed time exceeds its duration and returns
// them.
func (e *Engine) Sweep(ctx context.Context) []*domain.Poll {
	e.mu.Lock()
	now := e.now()
	var ended []*domain.Poll
	for channel, list := range e.active {
		live := list[:0]
		for _, p := range list {
			if p.Done(now) {
				ended = append(ended, p)
			} else {
				live = append(live, p)
			}
		}
		if len(live) == 0 {
			delete(e.active, channel)
		} else {
			e.active[channel] = live
		}
	}
	telemetry.SetActivePolls(e.count())
	notifier := e.notifier
	e.mu.Unlock()

	for _, p := range ended {
		if notifier != nil {
			notifier.PollEnded(ctx, p.Clone())
		}
		e.announce(ctx, p.Channel, resultMessage(p))
	}
	return ended
}

func resultMessage(p *domain.Poll) string {
	winners := p.Winners()
	if len(winners) == 0 {
		return fmt.Sprintf("Poll #%d ended: %s | no votes", p.ID, p.Title)
	}
	tally := p.Tally()
	votes := tally[winners[0]]
	if len(winners) == 1 {
		return fmt.Sprintf("Poll #%d ended: %s | winner: %s (%d votes)", p.ID, p.Title, p.Choices[winners[0]], votes)
	}
	names := make([]string, len(winners))
	for i, w := range winners {
		names[i] = p.Choices[w]
	}
	return fmt.Sprintf("Poll #%d ended: %s | tie between %s (%d votes each)", p.ID, p.Title, strings.Join(names, ", "), votes)
}

func (e *Engine) announce(ctx context.Context, channel, text string) {
	if e.sender == nil {
		return
	}
	if err := e.sender.Say(ctx, channel, text); err != nil {
		logger.Channel(channel).Warn("poll announcement failed", "error", err)
	}
}
