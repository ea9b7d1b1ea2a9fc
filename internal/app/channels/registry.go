// Package channels tracks the chat rooms the bot is in.
package channels

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
)

const DefaultUpdateInterval = 60 * time.Second

// Channel is one joined room. Fields are refreshed by the registry's update
// loop and by observed events.
type Channel struct {
	Name string

	mu            sync.RWMutex
	displayName   string
	isModerator   bool
	isVIP         bool
	isBroadcaster bool
	lastChat      time.Time
	stream        *domain.StreamInfo
	chatters      []string
	updatedAt     time.Time

	cancel context.CancelFunc
}

// Snapshot is a copy of a channel's state.
type Snapshot struct {
	Name          string             `json:"name"`
	DisplayName   string             `json:"display_name,omitempty"`
	IsModerator   bool               `json:"is_moderator"`
	IsVIP         bool               `json:"is_vip"`
	IsBroadcaster bool               `json:"is_broadcaster"`
	LastChat      time.Time          `json:"last_chat"`
	Stream        *domain.StreamInfo `json:"stream,omitempty"`
	Chatters      int                `json:"chatters"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (c *Channel) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Name:          c.Name,
		DisplayName:   c.displayName,
		IsModerator:   c.isModerator,
		IsVIP:         c.isVIP,
		IsBroadcaster: c.isBroadcaster,
		LastChat:      c.lastChat,
		Chatters:      len(c.chatters),
		UpdatedAt:     c.updatedAt,
	}
	if c.stream != nil {
		cp := *c.stream
		s.Stream = &cp
	}
	return s
}

// Privileged reports whether the bot holds moderator, vip or broadcaster
// status here.
func (c *Channel) Privileged() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isModerator || c.isVIP || c.isBroadcaster
}

// Live reports whether the last update saw the stream online.
func (c *Channel) Live() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream != nil
}

// Uptime is the time since the stream started; false when offline.
func (c *Channel) Uptime(now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stream == nil || c.stream.StartedAt.IsZero() {
		return 0, false
	}
	return now.Sub(c.stream.StartedAt), true
}

func (c *Channel) Chatters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.chatters...)
}

func (c *Channel) setFlags(badges map[string]string) {
	_, mod := badges["moderator"]
	_, vip := badges["vip"]
	_, broadcaster := badges["broadcaster"]
	c.mu.Lock()
	c.isModerator, c.isVIP, c.isBroadcaster = mod, vip, broadcaster
	c.mu.Unlock()
}

func (c *Channel) touch(at time.Time, displayName string) {
	c.mu.Lock()
	c.lastChat = at
	if displayName != "" && strings.EqualFold(displayName, c.Name) {
		c.displayName = displayName
	}
	c.mu.Unlock()
}

type Registry struct {
	botNick  string
	streams  domain.StreamInfoPort
	chatters domain.ChatterListPort
	interval time.Duration

	mu       sync.Mutex
	base     context.Context
	channels map[string]*Channel
}

// NewRegistry builds a registry; either port may be nil to skip that part of
// the update loop.
func NewRegistry(botNick string, streams domain.StreamInfoPort, chatters domain.ChatterListPort) *Registry {
	return &Registry{
		botNick:  strings.ToLower(botNick),
		streams:  streams,
		chatters: chatters,
		interval: DefaultUpdateInterval,
		channels: make(map[string]*Channel),
	}
}

// SetInterval overrides the update interval, used by tests.
func (r *Registry) SetInterval(d time.Duration) {
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

// Start launches the update loops of every registered channel and of
// channels added later, until ctx is done.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base = ctx
	for _, ch := range r.channels {
		r.launch(ch)
	}
}

func key(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "#")
}

func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[key(name)]
	return ch, ok
}

// Ensure returns the channel, registering it on first reference.
func (r *Registry) Ensure(name string) *Channel {
	k := key(name)
	if k == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[k]; ok {
		return ch
	}
	ch := &Channel{Name: k}
	r.channels[k] = ch
	r.launch(ch)
	logger.Channel(k).Debug("channel registered")
	return ch
}

// Remove stops the channel's updater and forgets it.
func (r *Registry) Remove(name string) {
	k := key(name)
	r.mu.Lock()
	ch, ok := r.channels[k]
	delete(r.channels, k)
	r.mu.Unlock()
	if ok && ch.cancel != nil {
		ch.cancel()
	}
	if ok {
		logger.Channel(k).Debug("channel removed")
	}
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for k := range r.channels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Chatters is the last fetched chatter list of name, nil when not joined.
func (r *Registry) Chatters(name string) []string {
	ch, ok := r.Get(name)
	if !ok {
		return nil
	}
	return ch.Chatters()
}

func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		list = append(list, ch)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, ch := range list {
		out = append(out, ch.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsPrivileged is the rate limiter's privilege check: the bot's own channel
// or a channel where it holds a privileged badge.
func (r *Registry) IsPrivileged(name string) bool {
	k := key(name)
	if k == r.botNick {
		return true
	}
	ch, ok := r.Get(k)
	return ok && ch.Privileged()
}

// Observe updates the registry from an inbound event.
func (r *Registry) Observe(ev *domain.ChatEvent) {
	if ev == nil || ev.Channel == "" {
		return
	}

	switch {
	case ev.Kind == domain.KindUserPart && ev.Author == r.botNick:
		r.Remove(ev.Channel)
		return
	case ev.Kind == domain.KindUserJoin && ev.Author == r.botNick:
		r.Ensure(ev.Channel)
		return
	}

	ch := r.Ensure(ev.Channel)
	if ch == nil {
		return
	}
	switch {
	case ev.Command == "USERSTATE":
		ch.setFlags(ev.Badges)
	case ev.Kind == domain.KindPrivmsg || ev.Kind == domain.KindBits || ev.Kind == domain.KindChannelPoints:
		ch.touch(ev.ReceivedAt, ev.DisplayName())
	}
}

// launch must be called with r.mu held.
func (r *Registry) launch(ch *Channel) {
	if r.base == nil || ch.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.base)
	ch.cancel = cancel
	go r.updateLoop(ctx, ch, r.interval)
}

func (r *Registry) updateLoop(ctx context.Context, ch *Channel, interval time.Duration) {
	r.refresh(ctx, ch)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx, ch)
		}
	}
}

// refresh is best effort; failures are logged and retried next cycle.
func (r *Registry) refresh(ctx context.Context, ch *Channel) {
	log := logger.Channel(ch.Name)

	if r.streams != nil {
		info, err := r.streams.StreamInfo(ctx, ch.Name)
		if err != nil {
			log.Warn("stream info update failed", "error", err)
		} else {
			ch.mu.Lock()
			ch.stream = info
			ch.updatedAt = time.Now()
			ch.mu.Unlock()
		}
	}

	if r.chatters != nil {
		list, err := r.chatters.Chatters(ctx, ch.Name)
		if err != nil {
			log.Warn("chatter list update failed", "error", err)
		} else {
			ch.mu.Lock()
			ch.chatters = list
			ch.updatedAt = time.Now()
			ch.mu.Unlock()
		}
	}
}
