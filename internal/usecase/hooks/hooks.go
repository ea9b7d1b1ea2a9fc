// Package hooks declares the event hooks shared by the bot, mods and
// runtime subscribers.
package hooks

import (
	"context"

	"twitchbot/internal/domain"
	"twitchbot/internal/usecase/commands"
)

// Hooks receives dispatched events. Implementations embed Base and override
// what they need.
type Hooks interface {
	RawMessage(ctx context.Context, ev *domain.ChatEvent)
	WhisperReceived(ctx context.Context, ev *domain.ChatEvent)
	PrivmsgReceived(ctx context.Context, ev *domain.ChatEvent)
	ChannelJoined(ctx context.Context, ev *domain.ChatEvent)
	UserJoin(ctx context.Context, ev *domain.ChatEvent)
	UserPart(ctx context.Context, ev *domain.ChatEvent)
	ChannelSubscription(ctx context.Context, ev *domain.ChatEvent)
	Raid(ctx context.Context, ev *domain.ChatEvent)
	ChannelPointsRedeemed(ctx context.Context, ev *domain.ChatEvent)
	BitsDonated(ctx context.Context, ev *domain.ChatEvent)
	BotBanned(ctx context.Context, ev *domain.ChatEvent)
	BotTimedOut(ctx context.Context, ev *domain.ChatEvent)
	Notice(ctx context.Context, ev *domain.ChatEvent)
	UserNotice(ctx context.Context, ev *domain.ChatEvent)

	// HasPermission and BeforeCommand veto a command by returning false.
	HasPermission(ctx context.Context, inv *commands.Invocation) bool
	BeforeCommand(ctx context.Context, inv *commands.Invocation) bool
	AfterCommand(ctx context.Context, inv *commands.Invocation)

	PubSubReceived(ctx context.Context, ev *domain.PubSubEvent)
	Redemption(ctx context.Context, ev *domain.PubSubEvent)
	PubSubBits(ctx context.Context, ev *domain.PubSubEvent)
	Moderation(ctx context.Context, ev *domain.PubSubEvent)
	PubSubSubscription(ctx context.Context, ev *domain.PubSubEvent)
	TwitchPoll(ctx context.Context, ev *domain.PubSubEvent)
	PubSubWhisper(ctx context.Context, ev *domain.PubSubEvent)
	Follow(ctx context.Context, ev *domain.PubSubEvent)

	PollStarted(ctx context.Context, p *domain.Poll)
	PollEnded(ctx context.Context, p *domain.Poll)
}

// Base implements every hook as a no-op that allows commands.
type Base struct{}

func (Base) RawMessage(context.Context, *domain.ChatEvent)            {}
func (Base) WhisperReceived(context.Context, *domain.ChatEvent)       {}
func (Base) PrivmsgReceived(context.Context, *domain.ChatEvent)       {}
func (Base) ChannelJoined(context.Context, *domain.ChatEvent)         {}
func (Base) UserJoin(context.Context, *domain.ChatEvent)              {}
func (Base) UserPart(context.Context, *domain.ChatEvent)              {}
func (Base) ChannelSubscription(context.Context, *domain.ChatEvent)   {}
func (Base) Raid(context.Context, *domain.ChatEvent)                  {}
func (Base) ChannelPointsRedeemed(context.Context, *domain.ChatEvent) {}
func (Base) BitsDonated(context.Context, *domain.ChatEvent)           {}
func (Base) BotBanned(context.Context, *domain.ChatEvent)             {}
func (Base) BotTimedOut(context.Context, *domain.ChatEvent)           {}
func (Base) Notice(context.Context, *domain.ChatEvent)                {}
func (Base) UserNotice(context.Context, *domain.ChatEvent)            {}

func (Base) HasPermission(context.Context, *commands.Invocation) bool { return true }
func (Base) BeforeCommand(context.Context, *commands.Invocation) bool { return true }
func (Base) AfterCommand(context.Context, *commands.Invocation)       {}

func (Base) PubSubReceived(context.Context, *domain.PubSubEvent)     {}
func (Base) Redemption(context.Context, *domain.PubSubEvent)         {}
func (Base) PubSubBits(context.Context, *domain.PubSubEvent)         {}
func (Base) Moderation(context.Context, *domain.PubSubEvent)         {}
func (Base) PubSubSubscription(context.Context, *domain.PubSubEvent) {}
func (Base) TwitchPoll(context.Context, *domain.PubSubEvent)         {}
func (Base) PubSubWhisper(context.Context, *domain.PubSubEvent)      {}
func (Base) Follow(context.Context, *domain.PubSubEvent)             {}

func (Base) PollStarted(context.Context, *domain.Poll) {}
func (Base) PollEnded(context.Context, *domain.Poll)   {}

var _ Hooks = Base{}

// Named is a hook set with a name, used in logs when a hook panics.
type Named struct {
	Name  string
	Hooks Hooks
}
