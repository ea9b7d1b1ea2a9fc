// Package builtin registers the commands every channel gets.
package builtin

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"twitchbot/internal/domain"
	"twitchbot/internal/usecase/commands"
	"twitchbot/internal/usecase/permissions"
	"twitchbot/internal/usecase/polls"
	"twitchbot/internal/usecase/timers"
	"twitchbot/internal/usecase/toggles"
)

const (
	PermManageCommands    = "manage_commands"
	PermManagePermissions = "manage_permissions"
	PermManageTimers      = "manage_timers"
	PermManagePolls       = "manage_polls"
	PermManageMods        = "manage_mods"
	PermManageQuotes      = "manage_quotes"
	PermManageCounters    = "manage_counters"
	PermManageCurrency    = "manage_currency"
	PermManageStream      = "manage_stream"
)

// ModAdmin is the part of the mod registry the mod command drives.
type ModAdmin interface {
	Reload(ctx context.Context, name string) error
	Names() []string
}

// Deps wires the built-ins to their services. Nil services leave the
// matching commands unregistered.
type Deps struct {
	Catalog     *commands.Service
	Custom      *commands.CustomCommandManager
	Permissions *permissions.Engine
	Toggles     *toggles.Service
	Timers      *timers.Engine
	Polls       *polls.Engine
	Quotes      domain.QuoteRepository
	Counters    domain.CounterRepository
	Balances    domain.BalanceRepository
	Currency    domain.CurrencyRepository
	Mods        ModAdmin
	Streams     domain.StreamInfoPort
	Editor      domain.StreamEditor

	DefaultBalance int
	// Intn returns a value in [0, n); defaults to math/rand.
	Intn func(n int) int
	// Now defaults to time.Now.
	Now func() time.Time
}

type set struct {
	reg  *commands.Registry
	deps Deps
}

// Register adds every built-in whose dependencies are present.
func Register(reg *commands.Registry, deps Deps) error {
	if deps.Intn == nil {
		deps.Intn = rand.IntN
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &set{reg: reg, deps: deps}

	cmds := []*commands.Command{s.ping(), s.roll(), s.help()}
	if deps.Catalog != nil {
		cmds = append(cmds, s.list())
	}
	if deps.Custom != nil {
		cmds = append(cmds, s.addcmd(), s.editcmd(), s.delcmd())
	}
	if deps.Toggles != nil {
		cmds = append(cmds, s.disablecmd(), s.enablecmd())
	}
	if deps.Permissions != nil {
		cmds = append(cmds, s.perm())
	}
	if deps.Timers != nil {
		cmds = append(cmds, s.timer())
	}
	if deps.Polls != nil {
		cmds = append(cmds, s.poll(), s.vote())
	}
	if deps.Quotes != nil {
		cmds = append(cmds, s.quote())
	}
	if deps.Counters != nil {
		cmds = append(cmds, s.counter())
	}
	if deps.Balances != nil {
		cmds = append(cmds, s.balance())
	}
	if deps.Currency != nil {
		cmds = append(cmds, s.currency())
	}
	if deps.Mods != nil && deps.Toggles != nil {
		cmds = append(cmds, s.mod())
	}
	if deps.Streams != nil {
		cmds = append(cmds, s.uptime(), s.title(), s.game())
	}

	for _, c := range cmds {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *set) can(inv *commands.Invocation, perm string) bool {
	if s.deps.Permissions == nil {
		return false
	}
	return s.deps.Permissions.HasPermission(inv.Channel, inv.User(), perm)
}

func (s *set) now() time.Time { return s.deps.Now() }

// fullName puts the registry prefix in front of a bare command name.
func (s *set) fullName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(name, s.reg.Prefix()) {
		name = s.reg.Prefix() + name
	}
	return name
}

func (s *set) ping() *commands.Command {
	return &commands.Command{
		Name:                     "ping",
		Cooldown:                 5 * time.Second,
		CooldownBypassPermission: PermManageCommands,
		Help:                     "check that the bot is alive",
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			return inv.Reply(ctx, "Pong!")
		},
	}
}

type sidesType struct{}

func (sidesType) Cast(arg string) (any, error) { return commands.Int.Cast(arg) }
func (sidesType) Default() any                  { return 6 }

func (s *set) roll() *commands.Command {
	return &commands.Command{
		Name:    "roll",
		Aliases: []string{"dice"},
		Syntax:  "[sides]",
		Help:    "roll a die, six sides unless told otherwise",
		Params:  []commands.Param{{Name: "sides", Type: sidesType{}, Optional: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			sides := inv.Int(0)
			if sides < 1 {
				return commands.InvalidArguments("sides must be at least 1")
			}
			return inv.Replyf(ctx, "@%s you rolled a %d", inv.User(), s.deps.Intn(sides)+1)
		},
	}
}

func (s *set) help() *commands.Command {
	return &commands.Command{
		Name:   "help",
		Syntax: "<command> [sub-command...]",
		Help:   "show how to use a command",
		Params: []commands.Param{{Name: "command", Variadic: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			parts := inv.Strings(0)
			parts[0] = s.fullName(parts[0])
			cmd, rest, ok := s.reg.Resolve(parts)
			if !ok {
				if s.deps.Custom != nil {
					if _, err := s.deps.Custom.Find(ctx, inv.Channel, parts[0]); err == nil {
						return inv.Replyf(ctx, "%s is a custom command of this channel", parts[0])
					}
				}
				return inv.Replyf(ctx, "unknown command %s", parts[0])
			}
			if len(rest) > 0 {
				return inv.Replyf(ctx, "%s has no sub-command %s", cmd.FullName(), rest[0])
			}
			text := "Usage: " + cmd.Usage()
			if cmd.Help != "" {
				text += " - " + cmd.Help
			}
			return inv.Reply(ctx, text)
		},
	}
}

func (s *set) list() *commands.Command {
	return &commands.Command{
		Name: "commands",
		Help: "list the commands available here",
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			names, err := s.deps.Catalog.Names(ctx, inv.Channel)
			if err != nil {
				return err
			}
			return inv.Reply(ctx, "Commands: "+strings.Join(names, ", "))
		},
	}
}

// userError turns expected service failures into a chat reply.
func userError(ctx context.Context, inv *commands.Invocation, err error, known ...error) error {
	for _, k := range known {
		if errors.Is(err, k) {
			return inv.Reply(ctx, err.Error())
		}
	}
	return err
}
