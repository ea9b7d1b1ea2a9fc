// Package handle_message routes parsed chat and PubSub events to commands,
// the bot, mods and runtime subscribers.
package handle_message

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/telemetry"
	"twitchbot/internal/usecase/commands"
	"twitchbot/internal/usecase/hooks"
)

type Config struct {
	BotNick                         string
	DisableWhispers                 bool
	UseCommandWhitelist             bool
	CommandWhitelist                []string
	SendMessageOnWhitelistDeny      bool
	SendMessageOnDisabledCommandUse bool
	EnableCooldownBypassPermissions bool
}

// Outbound is the chat sender plus the unthrottled PONG.
type Outbound interface {
	domain.ChatSender
	Pong(ctx context.Context) error
}

type PermissionChecker interface {
	HasPermission(channel, user, perm string) bool
}

type ToggleChecker interface {
	CommandDisabled(ctx context.Context, channel, name string) bool
}

// ModSource returns the mods whose hooks run for channel, in load order.
type ModSource interface {
	Active(ctx context.Context, channel string) []hooks.Named
}

type ChannelObserver interface {
	Observe(ev *domain.ChatEvent)
}

type ReplyOfferer interface {
	Offer(ev *domain.ChatEvent) int
}

// Scheduler runs handler tasks off the reader. Go reports whether the task
// was accepted; a bounded scheduler may refuse under load.
type Scheduler interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context)) bool
}

type Deps struct {
	Registry    *commands.Registry
	Custom      *commands.CustomCommandManager
	Sender      Outbound
	Permissions PermissionChecker
	Toggles     ToggleChecker
	Mods        ModSource
	Channels    ChannelObserver
	Replies     ReplyOfferer
	Pool        Scheduler
	// Bot is the main hook set, run before mods and subscribers.
	Bot hooks.Hooks
}

type subscriber struct {
	id    int
	hooks hooks.Hooks
}

type Interactor struct {
	cfg       Config
	registry  *commands.Registry
	custom    *commands.CustomCommandManager
	sender    Outbound
	perms     PermissionChecker
	toggles   ToggleChecker
	mods      ModSource
	channels  ChannelObserver
	replies   ReplyOfferer
	pool      Scheduler
	bot       hooks.Hooks
	cooldowns *CooldownLedger
	whitelist map[string]struct{}
	now       func() time.Time

	subMu  sync.RWMutex
	subs   []subscriber
	nextID int
}

func NewInteractor(cfg Config, deps Deps) *Interactor {
	cfg.BotNick = strings.ToLower(cfg.BotNick)
	uc := &Interactor{
		cfg:       cfg,
		registry:  deps.Registry,
		custom:    deps.Custom,
		sender:    deps.Sender,
		perms:     deps.Permissions,
		toggles:   deps.Toggles,
		mods:      deps.Mods,
		channels:  deps.Channels,
		replies:   deps.Replies,
		pool:      deps.Pool,
		bot:       deps.Bot,
		cooldowns: NewCooldownLedger(),
		whitelist: make(map[string]struct{}),
		now:       time.Now,
	}
	if uc.registry == nil {
		uc.registry = commands.NewRegistry("!")
	}
	if uc.bot == nil {
		uc.bot = hooks.Base{}
	}
	if uc.pool == nil {
		uc.pool = goScheduler{}
	}
	for _, name := range cfg.CommandWhitelist {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if !strings.HasPrefix(name, uc.registry.Prefix()) {
			name = uc.registry.Prefix() + name
		}
		uc.whitelist[name] = struct{}{}
	}
	return uc
}

// SetClock replaces the time source used by the cooldown gate.
func (uc *Interactor) SetClock(now func() time.Time) {
	uc.now = now
}

func (uc *Interactor) Cooldowns() *CooldownLedger {
	return uc.cooldowns
}

// Subscribe adds a hook set that runs after the bot and the mods. The
// returned function removes it.
func (uc *Interactor) Subscribe(h hooks.Hooks) func() {
	uc.subMu.Lock()
	id := uc.nextID
	uc.nextID++
	uc.subs = append(uc.subs, subscriber{id: id, hooks: h})
	uc.subMu.Unlock()

	return func() {
		uc.subMu.Lock()
		defer uc.subMu.Unlock()
		uc.subs = slices.DeleteFunc(uc.subs, func(s subscriber) bool { return s.id == id })
	}
}

// scope is the channel an event belongs to; whispers run in the bot's own
// channel.
func (uc *Interactor) scope(ev *domain.ChatEvent) string {
	if ev.Kind == domain.KindWhisper || ev.Channel == "" {
		return uc.cfg.BotNick
	}
	return ev.Channel
}

// Handle dispatches one parsed event. Branches run on the pool; Handle
// itself only does bookkeeping and never waits for handlers. A panic in
// that bookkeeping is logged and the event dropped, so the reader keeps
// going.
func (uc *Interactor) Handle(ctx context.Context, ev *domain.ChatEvent) {
	if ev == nil {
		return
	}
	guard("dispatch", "Handle", func() { uc.handle(ctx, ev) })
}

func (uc *Interactor) handle(ctx context.Context, ev *domain.ChatEvent) {
	telemetry.ObserveFrame(string(ev.Kind))
	if uc.channels != nil {
		uc.channels.Observe(ev)
	}
	if ev.UserAuthored() && uc.replies != nil {
		uc.replies.Offer(ev)
	}

	scope := uc.scope(ev)
	uc.dispatch(ctx, scope, "RawMessage", func(ctx context.Context, h hooks.Hooks) { h.RawMessage(ctx, ev) })

	if ev.Kind == domain.KindPing {
		uc.pool.Go(ctx, "pong", func(ctx context.Context) {
			if err := uc.sender.Pong(ctx); err != nil {
				logger.Service("dispatch").Warn("pong failed", "error", err)
			}
		})
		return
	}

	// Cheers and reward messages are channel messages first; their
	// donation hooks fire on top of the command or privmsg branch.
	defer uc.donationHooks(ctx, scope, ev)

	if ev.UserAuthored() {
		if cmd, args, ok := uc.resolve(ctx, ev, scope); ok && cmd.Mask().Allows(ev.Kind) {
			uc.pool.Go(ctx, "command "+cmd.FullName(), func(ctx context.Context) {
				uc.runCommand(ctx, ev, cmd, args)
			})
			return
		}
	}

	switch ev.Kind {
	case domain.KindWhisper:
		uc.dispatch(ctx, scope, "WhisperReceived", func(ctx context.Context, h hooks.Hooks) { h.WhisperReceived(ctx, ev) })
	case domain.KindPrivmsg, domain.KindBits, domain.KindChannelPoints:
		uc.dispatch(ctx, scope, "PrivmsgReceived", func(ctx context.Context, h hooks.Hooks) { h.PrivmsgReceived(ctx, ev) })
	case domain.KindUserJoin:
		if ev.Author == uc.cfg.BotNick {
			uc.dispatch(ctx, scope, "ChannelJoined", func(ctx context.Context, h hooks.Hooks) { h.ChannelJoined(ctx, ev) })
		} else {
			uc.dispatch(ctx, scope, "UserJoin", func(ctx context.Context, h hooks.Hooks) { h.UserJoin(ctx, ev) })
		}
	case domain.KindUserPart:
		uc.dispatch(ctx, scope, "UserPart", func(ctx context.Context, h hooks.Hooks) { h.UserPart(ctx, ev) })
	case domain.KindSubscription:
		uc.dispatch(ctx, scope, "ChannelSubscription", func(ctx context.Context, h hooks.Hooks) { h.ChannelSubscription(ctx, ev) })
	case domain.KindRaid:
		uc.dispatch(ctx, scope, "Raid", func(ctx context.Context, h hooks.Hooks) { h.Raid(ctx, ev) })
	case domain.KindBotBanned:
		uc.dispatch(ctx, scope, "BotBanned", func(ctx context.Context, h hooks.Hooks) { h.BotBanned(ctx, ev) })
	case domain.KindBotTimedOut:
		uc.dispatch(ctx, scope, "BotTimedOut", func(ctx context.Context, h hooks.Hooks) { h.BotTimedOut(ctx, ev) })
	case domain.KindNotice:
		uc.dispatch(ctx, scope, "Notice", func(ctx context.Context, h hooks.Hooks) { h.Notice(ctx, ev) })
	case domain.KindUserNotice:
		uc.dispatch(ctx, scope, "UserNotice", func(ctx context.Context, h hooks.Hooks) { h.UserNotice(ctx, ev) })
	}
}

func (uc *Interactor) donationHooks(ctx context.Context, scope string, ev *domain.ChatEvent) {
	if ev.Kind == domain.KindChannelPoints {
		uc.dispatch(ctx, scope, "ChannelPointsRedeemed", func(ctx context.Context, h hooks.Hooks) { h.ChannelPointsRedeemed(ctx, ev) })
	}
	if ev.Kind == domain.KindBits || ev.Bits > 0 {
		uc.dispatch(ctx, scope, "BitsDonated", func(ctx context.Context, h hooks.Hooks) { h.BitsDonated(ctx, ev) })
	}
}

// HandlePubSub fans a PubSub message out as PubSubReceived followed by the
// hook for its kind.
func (uc *Interactor) HandlePubSub(ctx context.Context, ev *domain.PubSubEvent) {
	if ev == nil {
		return
	}
	scope := ev.Channel
	if scope == "" {
		scope = uc.cfg.BotNick
	}
	uc.pool.Go(ctx, "pubsub "+string(ev.Kind), func(ctx context.Context) {
		uc.fanout(ctx, scope, "PubSubReceived", func(ctx context.Context, h hooks.Hooks) { h.PubSubReceived(ctx, ev) })

		var specific func(ctx context.Context, h hooks.Hooks)
		switch ev.Kind {
		case domain.PubSubRedemption:
			specific = func(ctx context.Context, h hooks.Hooks) { h.Redemption(ctx, ev) }
		case domain.PubSubBits:
			specific = func(ctx context.Context, h hooks.Hooks) { h.PubSubBits(ctx, ev) }
		case domain.PubSubModeration:
			specific = func(ctx context.Context, h hooks.Hooks) { h.Moderation(ctx, ev) }
		case domain.PubSubSubscription:
			specific = func(ctx context.Context, h hooks.Hooks) { h.PubSubSubscription(ctx, ev) }
		case domain.PubSubPoll:
			specific = func(ctx context.Context, h hooks.Hooks) { h.TwitchPoll(ctx, ev) }
		case domain.PubSubWhisper:
			specific = func(ctx context.Context, h hooks.Hooks) { h.PubSubWhisper(ctx, ev) }
		case domain.PubSubFollow:
			specific = func(ctx context.Context, h hooks.Hooks) { h.Follow(ctx, ev) }
		}
		if specific != nil {
			uc.fanout(ctx, scope, string(ev.Kind), specific)
		}
	})
}

func (uc *Interactor) PollStarted(ctx context.Context, p *domain.Poll) {
	uc.dispatch(ctx, p.Channel, "PollStarted", func(ctx context.Context, h hooks.Hooks) { h.PollStarted(ctx, p) })
}

func (uc *Interactor) PollEnded(ctx context.Context, p *domain.Poll) {
	uc.dispatch(ctx, p.Channel, "PollEnded", func(ctx context.Context, h hooks.Hooks) { h.PollEnded(ctx, p) })
}

func (uc *Interactor) resolve(ctx context.Context, ev *domain.ChatEvent, scope string) (*commands.Command, []string, bool) {
	if len(ev.Parts) == 0 {
		return nil, nil, false
	}
	if cmd, args, ok := uc.registry.Resolve(ev.Parts); ok {
		return cmd, args, true
	}
	if uc.custom != nil {
		if cmd, ok := uc.custom.Command(ctx, scope, ev.Parts[0]); ok {
			return cmd, ev.Parts[1:], true
		}
	}
	return nil, nil, false
}

// chain is the ordered hook list for one event: bot, then the channel's
// active mods, then subscribers.
func (uc *Interactor) chain(ctx context.Context, channel string) []hooks.Named {
	out := []hooks.Named{{Name: "bot", Hooks: uc.bot}}
	if uc.mods != nil {
		out = append(out, uc.mods.Active(ctx, channel)...)
	}
	uc.subMu.RLock()
	for _, s := range uc.subs {
		out = append(out, hooks.Named{Name: fmt.Sprintf("subscriber-%d", s.id), Hooks: s.hooks})
	}
	uc.subMu.RUnlock()
	return out
}

func (uc *Interactor) dispatch(ctx context.Context, channel, hook string, fn func(ctx context.Context, h hooks.Hooks)) {
	uc.pool.Go(ctx, hook, func(ctx context.Context) {
		uc.fanout(ctx, channel, hook, fn)
	})
}

// fanout calls fn on every hook set in order. A panicking hook is logged and
// the rest still run.
func (uc *Interactor) fanout(ctx context.Context, channel, hook string, fn func(ctx context.Context, h hooks.Hooks)) {
	for _, h := range uc.chain(ctx, channel) {
		guard(h.Name, hook, func() { fn(ctx, h.Hooks) })
	}
}

// allow runs a veto hook along the chain and stops at the first false.
func (uc *Interactor) allow(ctx context.Context, channel, hook string, fn func(ctx context.Context, h hooks.Hooks) bool) bool {
	for _, h := range uc.chain(ctx, channel) {
		ok := true
		guard(h.Name, hook, func() { ok = fn(ctx, h.Hooks) })
		if !ok {
			return false
		}
	}
	return true
}

func guard(owner, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.HandlerPanic()
			logger.Service("dispatch").Error("hook panicked",
				"owner", owner,
				"hook", hook,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

func (uc *Interactor) runCommand(ctx context.Context, ev *domain.ChatEvent, cmd *commands.Command, args []string) {
	scope := uc.scope(ev)
	root := cmd.Root()
	inv := &commands.Invocation{
		Event:   ev,
		Command: cmd,
		Channel: scope,
		Args:    args,
		Sender:  uc.sender,
	}
	log := logger.User(scope, ev.Author).With("command", cmd.FullName())

	if uc.cfg.UseCommandWhitelist && !uc.whitelisted(root) {
		telemetry.CommandDenied("whitelist")
		log.Debug("command not whitelisted")
		if uc.cfg.SendMessageOnWhitelistDeny {
			uc.reply(ctx, inv, fmt.Sprintf("%s is not enabled on this bot", root.FullName()))
		}
		return
	}

	if !uc.permitted(ctx, inv) {
		telemetry.CommandDenied("permission")
		log.Info("permission denied", "permission", cmd.Permission)
		uc.denyPermission(ctx, inv)
		return
	}

	if uc.toggles != nil && uc.toggles.CommandDisabled(ctx, scope, root.FullName()) {
		telemetry.CommandDenied("disabled")
		if uc.cfg.SendMessageOnDisabledCommandUse {
			uc.reply(ctx, inv, fmt.Sprintf("%s is disabled in this channel", root.FullName()))
		}
		return
	}

	now := uc.now()
	bypass := uc.bypassesCooldown(inv)
	if !bypass {
		if left, on := uc.cooldowns.Remaining(scope, cmd.FullName(), cmd.Cooldown, now); on {
			telemetry.CommandDenied("cooldown")
			uc.reply(ctx, inv, fmt.Sprintf("%s is on cooldown, seconds left: %d", cmd.Name, int(left/time.Second)))
			return
		}
	}

	if !uc.allow(ctx, scope, "BeforeCommand", func(ctx context.Context, h hooks.Hooks) bool { return h.BeforeCommand(ctx, inv) }) {
		telemetry.CommandDenied("before_hook")
		return
	}

	values, err := commands.Coerce(cmd.Params, args)
	if err == nil {
		inv.Values = values
		err = uc.execute(ctx, inv)
	}
	switch {
	case errors.Is(err, commands.ErrInvalidArguments):
		telemetry.CommandDenied("arguments")
		uc.reply(ctx, inv, uc.usage(cmd))
		return
	case err != nil:
		log.Error("command failed", "error", err)
		return
	}

	if !bypass {
		uc.cooldowns.Mark(scope, cmd.FullName(), now)
	}
	telemetry.CommandExecuted(cmd.FullName())
	uc.fanout(ctx, scope, "AfterCommand", func(ctx context.Context, h hooks.Hooks) { h.AfterCommand(ctx, inv) })
}

// execute runs the handler inside a span. A panic becomes an error so the
// cooldown is not recorded.
func (uc *Interactor) execute(ctx context.Context, inv *commands.Invocation) (err error) {
	cmd := inv.Command
	if cmd.Handler == nil {
		return commands.InvalidArguments("missing sub-command")
	}
	ctx, span := telemetry.StartSpan(ctx, "command "+cmd.FullName(),
		attribute.String("channel", inv.Channel),
		attribute.String("user", inv.User()),
	)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			telemetry.HandlerPanic()
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
		if err != nil && !errors.Is(err, commands.ErrInvalidArguments) {
			telemetry.RecordError(span, err)
		}
	}()
	return cmd.Handler(ctx, inv)
}

func (uc *Interactor) whitelisted(root *commands.Command) bool {
	_, ok := uc.whitelist[strings.ToLower(root.FullName())]
	return ok
}

// permitted is the engine check followed by the hook chain's vetoes.
func (uc *Interactor) permitted(ctx context.Context, inv *commands.Invocation) bool {
	if perm := inv.Command.Permission; perm != "" && uc.perms != nil {
		if !uc.perms.HasPermission(inv.Channel, inv.User(), perm) {
			return false
		}
	}
	return uc.allow(ctx, inv.Channel, "HasPermission", func(ctx context.Context, h hooks.Hooks) bool {
		return h.HasPermission(ctx, inv)
	})
}

func (uc *Interactor) bypassesCooldown(inv *commands.Invocation) bool {
	perm := inv.Command.CooldownBypassPermission
	if !uc.cfg.EnableCooldownBypassPermissions || perm == "" || uc.perms == nil {
		return false
	}
	return uc.perms.HasPermission(inv.Channel, inv.User(), perm)
}

func (uc *Interactor) denyPermission(ctx context.Context, inv *commands.Invocation) {
	text := fmt.Sprintf("you do not have permission to use %s", inv.Command.FullName())
	if uc.cfg.DisableWhispers && inv.Event.Kind != domain.KindWhisper {
		uc.reply(ctx, inv, "@"+inv.User()+" "+text)
		return
	}
	if err := inv.Whisper(ctx, text); err != nil {
		logger.User(inv.Channel, inv.User()).Warn("permission denial not sent", "error", err)
	}
}

func (uc *Interactor) usage(cmd *commands.Command) string {
	text := "Usage: " + cmd.Usage()
	if cmd.Help != "" {
		text += " - " + cmd.Help
	}
	return fmt.Sprintf("%s (see %shelp %s)", text, uc.registry.Prefix(), cmd.Root().Name)
}

func (uc *Interactor) reply(ctx context.Context, inv *commands.Invocation, text string) {
	if err := inv.Reply(ctx, text); err != nil {
		logger.User(inv.Channel, inv.User()).Warn("reply failed", "error", err)
	}
}

// goScheduler runs each task on its own goroutine with a panic guard. It is
// the fallback when no pool is wired in.
type goScheduler struct{}

func (goScheduler) Go(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	go guard("task", name, func() { fn(ctx) })
	return true
}
