package builtin

import (
	"context"
	"errors"
	"time"

	"twitchbot/internal/domain"
	"twitchbot/internal/usecase/commands"
)

func (s *set) uptime() *commands.Command {
	return &commands.Command{
		Name:     "uptime",
		Context:  commands.ContextChannel,
		Cooldown: 10 * time.Second,
		Help:     "show how long the stream has been live",
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			info, err := s.deps.Streams.StreamInfo(ctx, inv.Channel)
			if err != nil {
				return err
			}
			if info == nil || info.StartedAt.IsZero() {
				return inv.Replyf(ctx, "%s is offline", inv.Channel)
			}
			return inv.Replyf(ctx, "%s has been live for %s", inv.Channel, commands.FormatDuration(s.now().Sub(info.StartedAt)))
		},
	}
}

func (s *set) title() *commands.Command {
	return &commands.Command{
		Name:    "title",
		Context: commands.ContextChannel,
		Syntax:  "[title...]",
		Help:    "show or change the stream title",
		Params:  []commands.Param{{Name: "title", Variadic: true, Optional: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			text := inv.Rest(0)
			if text == "" {
				info, err := s.deps.Streams.StreamInfo(ctx, inv.Channel)
				if err != nil {
					return err
				}
				if info == nil {
					return inv.Replyf(ctx, "%s is offline", inv.Channel)
				}
				return inv.Replyf(ctx, "title: %s", info.Title)
			}
			if s.deps.Editor == nil {
				return inv.Reply(ctx, "changing the title is not available")
			}
			if !s.can(inv, PermManageStream) {
				return inv.Whisper(ctx, "you do not have permission to change the title")
			}
			if err := s.deps.Editor.SetTitle(ctx, inv.Channel, text); err != nil {
				return err
			}
			return inv.Replyf(ctx, "title set to: %s", text)
		},
	}
}

func (s *set) game() *commands.Command {
	return &commands.Command{
		Name:    "game",
		Context: commands.ContextChannel,
		Syntax:  "[name...]",
		Help:    "show or change the stream category",
		Params:  []commands.Param{{Name: "name", Variadic: true, Optional: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			name := inv.Rest(0)
			if name == "" {
				info, err := s.deps.Streams.StreamInfo(ctx, inv.Channel)
				if err != nil {
					return err
				}
				if info == nil {
					return inv.Replyf(ctx, "%s is offline", inv.Channel)
				}
				return inv.Replyf(ctx, "playing: %s", info.GameName)
			}
			if s.deps.Editor == nil {
				return inv.Reply(ctx, "changing the game is not available")
			}
			if !s.can(inv, PermManageStream) {
				return inv.Whisper(ctx, "you do not have permission to change the game")
			}
			applied, err := s.deps.Editor.SetGame(ctx, inv.Channel, name)
			if errors.Is(err, domain.ErrNotFound) {
				return inv.Replyf(ctx, "no game named %s", name)
			}
			if err != nil {
				return err
			}
			return inv.Replyf(ctx, "game set to %s", applied)
		},
	}
}
