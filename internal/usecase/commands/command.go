package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"twitchbot/internal/domain"
)

// ContextMask says where a command may be invoked.
type ContextMask uint8

const (
	ContextChannel ContextMask = 1 << iota
	ContextWhisper
	ContextConsole

	ContextBoth = ContextChannel | ContextWhisper
	ContextAll  = ContextBoth | ContextConsole
)

// Allows reports whether an event of kind may run a command with this mask.
func (m ContextMask) Allows(kind domain.EventKind) bool {
	switch kind {
	case domain.KindWhisper:
		return m&ContextWhisper != 0
	case domain.KindPrivmsg, domain.KindBits, domain.KindChannelPoints:
		return m&ContextChannel != 0
	}
	return false
}

func (m ContextMask) String() string {
	switch m {
	case ContextChannel:
		return "channel"
	case ContextWhisper:
		return "whisper"
	case ContextConsole:
		return "console"
	case ContextBoth:
		return "both"
	case ContextAll:
		return "all"
	}
	return fmt.Sprintf("mask(%d)", uint8(m))
}

type Handler func(ctx context.Context, inv *Invocation) error

// Command is a chat command. Sub-commands hang off their parent and are
// reached by Registry.Resolve.
type Command struct {
	Name    string
	Prefix  string
	Aliases []string
	// Context defaults to ContextBoth when zero.
	Context    ContextMask
	Permission string
	// CooldownBypassPermission lets holders skip the cooldown gate.
	CooldownBypassPermission string
	Cooldown                 time.Duration
	Syntax                   string
	Help                     string
	Params                   []Param
	Handler                  Handler

	// Mod is the owning mod, empty for built-in commands.
	Mod    string
	Parent *Command
	subs   map[string]*Command
	order  []*Command
}

// FullName is prefix + name for roots, and the space-joined path for
// sub-commands.
func (c *Command) FullName() string {
	if c.Parent != nil {
		return c.Parent.FullName() + " " + c.Name
	}
	return c.Prefix + c.Name
}

// Root walks up to the top-level command.
func (c *Command) Root() *Command {
	for c.Parent != nil {
		c = c.Parent
	}
	return c
}

func (c *Command) Mask() ContextMask {
	if c.Context == 0 {
		return ContextBoth
	}
	return c.Context
}

// Usage is the syntax line shown on invalid arguments.
func (c *Command) Usage() string {
	if c.Syntax != "" {
		return c.FullName() + " " + c.Syntax
	}
	if len(c.order) > 0 {
		names := make([]string, 0, len(c.order))
		for _, s := range c.order {
			names = append(names, s.Name)
		}
		return c.FullName() + " <" + strings.Join(names, "|") + ">"
	}
	return c.FullName()
}

// AddSub attaches sub under c, keyed by its name and aliases.
func (c *Command) AddSub(sub *Command) (*Command, error) {
	if sub == nil || strings.TrimSpace(sub.Name) == "" {
		return nil, fmt.Errorf("commands: sub-command of %s has no name", c.Name)
	}
	if c.subs == nil {
		c.subs = make(map[string]*Command)
	}
	sub.Name = strings.ToLower(strings.TrimSpace(sub.Name))
	keys := append([]string{sub.Name}, sub.Aliases...)
	for _, k := range keys {
		k = strings.ToLower(k)
		if _, dup := c.subs[k]; dup {
			return nil, fmt.Errorf("commands: duplicate sub-command %s %s", c.FullName(), k)
		}
	}
	for _, k := range keys {
		c.subs[strings.ToLower(k)] = sub
	}
	sub.Parent = c
	sub.Mod = c.Mod
	if sub.Context == 0 {
		sub.Context = c.Context
	}
	c.order = append(c.order, sub)
	return sub, nil
}

// MustSub is AddSub for static command trees.
func (c *Command) MustSub(sub *Command) *Command {
	s, err := c.AddSub(sub)
	if err != nil {
		panic(err)
	}
	return s
}

func (c *Command) Sub(name string) (*Command, bool) {
	s, ok := c.subs[strings.ToLower(name)]
	return s, ok
}

// Subcommands returns the direct children sorted by name.
func (c *Command) Subcommands() []*Command {
	out := append([]*Command(nil), c.order...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invocation is one execution of a command.
type Invocation struct {
	Event   *domain.ChatEvent
	Command *Command
	// Channel is the scope the command runs in; for whispers it is the bot's
	// own channel.
	Channel string
	Args    []string
	Values  []any
	Sender  domain.ChatSender
}

func (inv *Invocation) User() string {
	if inv.Event == nil {
		return ""
	}
	return inv.Event.Author
}

// Reply answers where the command came from: whisper for whispers, the
// channel otherwise.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	if inv.Event != nil && inv.Event.Kind == domain.KindWhisper {
		return inv.Sender.Whisper(ctx, inv.Event.Author, text)
	}
	return inv.Sender.Say(ctx, inv.Channel, text)
}

func (inv *Invocation) Replyf(ctx context.Context, format string, args ...any) error {
	return inv.Reply(ctx, fmt.Sprintf(format, args...))
}

func (inv *Invocation) Whisper(ctx context.Context, text string) error {
	return inv.Sender.Whisper(ctx, inv.User(), text)
}

func (inv *Invocation) value(i int) any {
	if i < 0 || i >= len(inv.Values) {
		return nil
	}
	return inv.Values[i]
}

func (inv *Invocation) String(i int) string {
	s, _ := inv.value(i).(string)
	return s
}

func (inv *Invocation) Int(i int) int {
	n, _ := inv.value(i).(int)
	return n
}

func (inv *Invocation) Float(i int) float64 {
	f, _ := inv.value(i).(float64)
	return f
}

func (inv *Invocation) Bool(i int) bool {
	b, _ := inv.value(i).(bool)
	return b
}

// Strings returns a variadic value as strings.
func (inv *Invocation) Strings(i int) []string {
	vals, _ := inv.value(i).([]any)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// Rest joins a variadic value back into text.
func (inv *Invocation) Rest(i int) string {
	return strings.Join(inv.Strings(i), " ")
}
