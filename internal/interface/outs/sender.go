// Package outs writes rate-limited chat output to the connection.
package outs

import (
	"context"
	"fmt"
	"strings"

	"twitchbot/internal/app/ratelimit"
	"twitchbot/internal/domain"
)

// DefaultWidth is the longest fragment sent in one PRIVMSG, in characters.
const DefaultWidth = 450

// Sender implements domain.ChatSender on top of a LineWriter, acquiring the
// limiter before every fragment.
type Sender struct {
	w       domain.LineWriter
	limiter *ratelimit.Limiter
	botNick string
	width   int
}

func NewSender(w domain.LineWriter, limiter *ratelimit.Limiter, botNick string) *Sender {
	return &Sender{
		w:       w,
		limiter: limiter,
		botNick: strings.ToLower(botNick),
		width:   DefaultWidth,
	}
}

// SetWidth overrides the wrap width, used by tests.
func (s *Sender) SetWidth(width int) {
	if width > 0 {
		s.width = width
	}
}

func (s *Sender) Say(ctx context.Context, channel, text string) error {
	channel = strings.TrimPrefix(strings.ToLower(channel), "#")
	if channel == "" {
		return fmt.Errorf("outs: empty channel")
	}
	for _, fragment := range Wrap(text, s.width) {
		if err := s.limiter.AcquirePrivmsg(ctx, channel); err != nil {
			return err
		}
		if err := s.w.WriteLine(ctx, "PRIVMSG #"+channel+" :"+fragment); err != nil {
			return fmt.Errorf("outs: say %s: %w", channel, err)
		}
	}
	return nil
}

// Whisper sends every fragment as its own /w command through the bot's
// channel.
func (s *Sender) Whisper(ctx context.Context, user, text string) error {
	user = strings.ToLower(strings.TrimPrefix(user, "@"))
	if user == "" {
		return fmt.Errorf("outs: empty whisper target")
	}
	prefix := "/w " + user + " "
	width := s.width - len([]rune(prefix))
	if width < 1 {
		width = 1
	}
	for _, fragment := range Wrap(text, width) {
		if err := s.limiter.AcquireWhisper(ctx); err != nil {
			return err
		}
		if err := s.w.WriteLine(ctx, "PRIVMSG #"+s.botNick+" :"+prefix+fragment); err != nil {
			return fmt.Errorf("outs: whisper %s: %w", user, err)
		}
	}
	return nil
}

// Pong answers a server PING. It is not rate limited.
func (s *Sender) Pong(ctx context.Context) error {
	return s.w.WriteLine(ctx, "PONG :tmi.twitch.tv")
}

// Wrap splits text on word boundaries into fragments of at most width
// characters. Words longer than width are split hard.
func Wrap(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		out     []string
		current []rune
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, string(current))
			current = current[:0]
		}
	}
	for _, word := range words {
		w := []rune(word)
		for len(w) > width {
			flush()
			out = append(out, string(w[:width]))
			w = w[width:]
		}
		if len(w) == 0 {
			continue
		}
		switch {
		case len(current) == 0:
			current = append(current, w...)
		case len(current)+1+len(w) <= width:
			current = append(current, ' ')
			current = append(current, w...)
		default:
			flush()
			current = append(current, w...)
		}
	}
	flush()
	return out
}

var _ domain.ChatSender = (*Sender)(nil)
