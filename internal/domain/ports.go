package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// ChatSender is the narrow outbound port handed to commands, mods and timers.
type ChatSender interface {
	Say(ctx context.Context, channel, text string) error
	Whisper(ctx context.Context, user, text string) error
}

// LineWriter writes one raw IRC line, bypassing the rate limiter.
type LineWriter interface {
	WriteLine(ctx context.Context, line string) error
}

// StreamInfoPort returns live stream metadata, nil when the channel is offline.
type StreamInfoPort interface {
	StreamInfo(ctx context.Context, channel string) (*StreamInfo, error)
}

// StreamEditor changes a channel's title and category.
type StreamEditor interface {
	SetTitle(ctx context.Context, channel, title string) error
	SetGame(ctx context.Context, channel, game string) (string, error)
}

// ChatterListPort lists the logins currently connected to a channel's chat.
type ChatterListPort interface {
	Chatters(ctx context.Context, channel string) ([]string, error)
}

// UserIDResolver maps a login to the numeric Twitch user id.
type UserIDResolver interface {
	UserID(ctx context.Context, login string) (string, error)
}

// EmoteSource provides the global emote snapshot loaded at startup.
type EmoteSource interface {
	GlobalEmotes(ctx context.Context) ([]EmoteDef, error)
}

type EmoteDef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
