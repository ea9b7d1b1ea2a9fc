// Package pubsub is a client for Twitch's PubSub websocket. It keeps one
// session open, replays subscriptions after every reconnect and turns MESSAGE
// frames into domain.PubSubEvent values.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/telemetry"
)

const (
	DefaultURL          = "wss://pubsub-edge.twitch.tv"
	DefaultPingInterval = 4*time.Minute + 36*time.Second
	DefaultPongTimeout  = 10 * time.Second
	DefaultRetryDelay   = 5 * time.Second
	DefaultMaxAttempts  = 10
)

var (
	// ErrGaveUp is returned by Run after MaxAttempts consecutive failed
	// connection attempts.
	ErrGaveUp = errors.New("pubsub: giving up after repeated connection failures")

	errReconnect   = errors.New("pubsub: server requested reconnect")
	errPongTimeout = errors.New("pubsub: pong timeout")
)

type Handler func(ctx context.Context, ev *domain.PubSubEvent)

type Config struct {
	URL string
	// Token is the OAuth token sent with every LISTEN, without "oauth:".
	Token        string
	PingInterval time.Duration
	PongTimeout  time.Duration
	RetryDelay   time.Duration
	MaxAttempts  int
	Dialer       *websocket.Dialer
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	c.Token = strings.TrimPrefix(c.Token, "oauth:")
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

type frame struct {
	Type  string          `json:"type"`
	Nonce string          `json:"nonce,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type listenData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token,omitempty"`
}

type Client struct {
	cfg     Config
	handler Handler
	log     *slog.Logger

	mu      sync.Mutex
	topics  map[string]string // topic -> channel login
	pending map[string][]string
	conn    *websocket.Conn

	writeMu sync.Mutex
}

func NewClient(cfg Config, handler Handler) *Client {
	cfg.defaults()
	return &Client{
		cfg:     cfg,
		handler: handler,
		log:     logger.Service("pubsub"),
		topics:  make(map[string]string),
		pending: make(map[string][]string),
	}
}

// ChannelTopics lists the topics the bot follows for a channel. botID may be
// empty, which leaves out the topics that need it.
func ChannelTopics(channelID, botID string) []string {
	topics := []string{
		"channel-points-channel-v1." + channelID,
		"channel-bits-events-v2." + channelID,
		"channel-subscribe-events-v1." + channelID,
		"polls." + channelID,
		"following." + channelID,
	}
	if botID != "" {
		topics = append(topics, "chat_moderator_actions."+botID+"."+channelID)
	}
	return topics
}

// WhisperTopic is the bot's own whisper feed.
func WhisperTopic(botID string) string { return "whispers." + botID }

// Listen subscribes topics on behalf of channel. It is remembered and sent
// again after every reconnect; while disconnected it only records.
func (c *Client) Listen(ctx context.Context, channel string, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	c.mu.Lock()
	for _, t := range topics {
		c.topics[t] = channel
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.send(conn, "LISTEN", topics)
}

// Unlisten drops every topic recorded for channel.
func (c *Client) Unlisten(ctx context.Context, channel string) error {
	c.mu.Lock()
	var topics []string
	for t, ch := range c.topics {
		if ch == channel {
			topics = append(topics, t)
			delete(c.topics, t)
		}
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || len(topics) == 0 {
		return nil
	}
	sort.Strings(topics)
	return c.send(conn, "UNLISTEN", topics)
}

// Topics returns the recorded topics, sorted.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c *Client) send(conn *websocket.Conn, kind string, topics []string) error {
	data, err := json.Marshal(listenData{Topics: topics, AuthToken: c.cfg.Token})
	if err != nil {
		return err
	}
	nonce := uuid.NewString()
	if kind == "LISTEN" {
		c.mu.Lock()
		c.pending[nonce] = topics
		c.mu.Unlock()
	}
	return c.write(conn, frame{Type: kind, Nonce: nonce, Data: data})
}

func (c *Client) write(conn *websocket.Conn, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("pubsub: write %s: %w", f.Type, err)
	}
	return nil
}

// Run keeps a session open until ctx ends. Every redial waits RetryDelay.
// A failed dial, or a session that ends before the server ever answered
// (a LISTEN response, PONG or MESSAGE), counts as a failed attempt; after
// MaxAttempts consecutive failures Run returns ErrGaveUp.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			c.log.Warn("pubsub connect failed", "attempt", failures, "error", err)
			if failures >= c.cfg.MaxAttempts {
				return ErrGaveUp
			}
			continue
		}

		healthy, err := c.session(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			failures = 0
		} else {
			failures++
			if failures >= c.cfg.MaxAttempts {
				c.log.Error("pubsub sessions keep dropping", "attempts", failures, "error", err)
				return ErrGaveUp
			}
		}
		telemetry.PubSubReconnect()
		c.log.Info("pubsub reconnecting", "reason", err, "failures", failures)
	}
}

// session serves one connection until it ends. healthy reports whether the
// server answered at least once.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) (healthy bool, err error) {
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string][]string)
	replay := make([]string, 0, len(c.topics))
	for t := range c.topics {
		replay = append(replay, t)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	c.log.Info("pubsub connected", "topics", len(replay))
	if len(replay) > 0 {
		sort.Strings(replay)
		if err := c.send(conn, "LISTEN", replay); err != nil {
			return false, err
		}
	}

	done := make(chan struct{})
	defer close(done)
	frames := make(chan frame)
	readErr := make(chan error, 1)
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()

	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()
	var (
		pongTimer    *time.Timer
		pongDeadline <-chan time.Time
	)
	defer func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return healthy, ctx.Err()
		case err := <-readErr:
			return healthy, fmt.Errorf("pubsub: read: %w", err)
		case <-ping.C:
			if err := c.write(conn, frame{Type: "PING"}); err != nil {
				return healthy, err
			}
			if pongTimer == nil {
				pongTimer = time.NewTimer(c.cfg.PongTimeout)
				pongDeadline = pongTimer.C
			}
		case <-pongDeadline:
			return healthy, errPongTimeout
		case f := <-frames:
			switch f.Type {
			case "PONG":
				healthy = true
				if pongTimer != nil {
					pongTimer.Stop()
					pongTimer, pongDeadline = nil, nil
				}
			case "RECONNECT":
				return healthy, errReconnect
			case "RESPONSE":
				healthy = healthy || f.Error == ""
				c.response(f)
			case "MESSAGE":
				healthy = true
				c.message(ctx, f.Data)
			}
		}
	}
}

// response settles a LISTEN; rejected topics are forgotten so they are not
// replayed.
func (c *Client) response(f frame) {
	c.mu.Lock()
	topics, ok := c.pending[f.Nonce]
	delete(c.pending, f.Nonce)
	if ok && f.Error != "" {
		for _, t := range topics {
			delete(c.topics, t)
		}
	}
	c.mu.Unlock()
	if ok && f.Error != "" {
		c.log.Error("pubsub listen rejected", "topics", topics, "error", f.Error)
	}
}

func (c *Client) message(ctx context.Context, data json.RawMessage) {
	var msg struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("pubsub message undecodable", "error", err)
		return
	}
	c.mu.Lock()
	channel := c.topics[msg.Topic]
	c.mu.Unlock()

	ev := Decode(msg.Topic, []byte(msg.Message))
	ev.Channel = channel
	ev.ReceivedAt = time.Now()
	telemetry.PubSubMessage(string(ev.Kind))
	if c.handler != nil {
		c.handler(ctx, ev)
	}
}
