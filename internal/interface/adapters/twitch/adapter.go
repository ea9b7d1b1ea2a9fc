// Package twitchadapter is the TLS IRC connection to Twitch chat.
package twitchadapter

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/telemetry"
	"twitchbot/internal/interface/irc"
)

const (
	DefaultAddr  = "irc.chat.twitch.tv:6697"
	capabilities = "twitch.tv/commands twitch.tv/tags twitch.tv/membership"

	writeTimeout = 10 * time.Second
	idleTick     = 50 * time.Millisecond
	queueSize    = 256
)

var ErrClosed = errors.New("twitch: connection closed")

type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

type Config struct {
	Addr     string
	Nick     string
	OAuth    string
	Channels []string
	// Dial overrides the TLS dialer, used by tests.
	Dial DialFunc
}

// LineHandler receives every inbound line, CRLF stripped. It runs on the
// reader goroutine and must not block.
type LineHandler func(ctx context.Context, line string)

// Conn owns one chat connection: a reader goroutine (the caller of Run) and a
// single writer goroutine that serialises every outbound line.
type Conn struct {
	cfg Config

	out  chan string
	stop chan struct{}
	done chan struct{}

	mu     sync.Mutex
	conn   net.Conn
	joined map[string]struct{}

	stopOnce sync.Once
}

func NewConn(cfg Config) *Conn {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Dial == nil {
		cfg.Dial = dialTLS
	}
	return &Conn{
		cfg:    cfg,
		out:    make(chan string, queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		joined: make(map[string]struct{}),
	}
}

func dialTLS(ctx context.Context, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second},
		Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
	return d.DialContext(ctx, "tcp", addr)
}

// Run dials, logs in, joins the configured channels and reads until ctx is
// done or the connection fails. A read error is returned as is; the caller
// treats it as fatal.
func (c *Conn) Run(ctx context.Context, handler LineHandler) error {
	if c.cfg.Nick == "" || c.cfg.OAuth == "" {
		return errors.New("twitch: nick or oauth token empty")
	}
	log := logger.Service("twitch")

	conn, err := c.cfg.Dial(ctx, c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("twitch: dial %s: %w", c.cfg.Addr, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)

	oauth := c.cfg.OAuth
	if !strings.HasPrefix(oauth, "oauth:") {
		oauth = "oauth:" + oauth
	}
	for _, line := range []string{
		"PASS " + oauth,
		"NICK " + strings.ToLower(c.cfg.Nick),
		"CAP REQ :" + capabilities,
	} {
		if err := c.WriteLine(ctx, line); err != nil {
			return err
		}
	}
	for _, ch := range c.cfg.Channels {
		if err := c.Join(ctx, ch); err != nil {
			return err
		}
	}
	log.Info("connected", "addr", c.cfg.Addr, "nick", c.cfg.Nick, "channels", c.cfg.Channels)

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		_ = conn.Close()
	}()

	err = c.readLoop(ctx, conn, handler)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Conn) readLoop(ctx context.Context, conn net.Conn, handler LineHandler) error {
	log := logger.Service("twitch")
	r := bufio.NewReaderSize(conn, irc.MaxFrameSize+2)
	discarding := false

	for {
		chunk, err := r.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			if !discarding {
				log.Warn("discarding oversized frame", "limit", irc.MaxFrameSize)
				telemetry.FrameRejected()
			}
			discarding = true
			continue
		case err != nil && !(errors.Is(err, io.EOF) && len(chunk) > 0):
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("twitch: read: %w", io.ErrUnexpectedEOF)
			}
			return fmt.Errorf("twitch: read: %w", err)
		}

		if discarding {
			discarding = false
			continue
		}

		line := strings.TrimRight(string(chunk), "\r\n")
		if line == "" {
			time.Sleep(idleTick)
			continue
		}
		handler(ctx, line)
	}
}

func (c *Conn) writeLoop(conn net.Conn) {
	log := logger.Service("twitch")
	defer close(c.done)

	write := func(line string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := io.WriteString(conn, line+"\r\n"); err != nil {
			log.Error("write failed", "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case line := <-c.out:
			if !write(line) {
				return
			}
		case <-c.stop:
			for {
				select {
				case line := <-c.out:
					if !write(line) {
						return
					}
				default:
					_ = conn.Close()
					return
				}
			}
		}
	}
}

// WriteLine queues one raw line. Embedded CR and LF are stripped.
func (c *Conn) WriteLine(ctx context.Context, line string) error {
	line = strings.NewReplacer("\r", "", "\n", "").Replace(line)
	select {
	case <-c.stop:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conn) Join(ctx context.Context, channel string) error {
	channel = normalize(channel)
	if channel == "" {
		return nil
	}
	if err := c.WriteLine(ctx, "JOIN #"+channel); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[channel] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Conn) Part(ctx context.Context, channel string) error {
	channel = normalize(channel)
	if err := c.WriteLine(ctx, "PART #"+channel); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.joined, channel)
	c.mu.Unlock()
	return nil
}

func (c *Conn) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for ch := range c.joined {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Close parts every joined channel, sends QUIT and waits for the writer to
// flush, bounded by ctx.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	started := c.conn != nil
	c.mu.Unlock()
	if !started {
		c.stopOnce.Do(func() { close(c.stop) })
		return nil
	}

	for _, ch := range c.Joined() {
		_ = c.Part(ctx, ch)
	}
	_ = c.WriteLine(ctx, "QUIT")
	c.stopOnce.Do(func() { close(c.stop) })

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		_ = c.conn.Close()
		c.mu.Unlock()
		return ctx.Err()
	}
}

func normalize(channel string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(channel)), "#")
}
