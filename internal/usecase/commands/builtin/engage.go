package builtin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"twitchbot/internal/domain"
	"twitchbot/internal/usecase/commands"
	"twitchbot/internal/usecase/polls"
	"twitchbot/internal/usecase/timers"
)

func (s *set) timer() *commands.Command {
	engine := s.deps.Timers
	root := &commands.Command{
		Name:       "timer",
		Context:    commands.ContextChannel,
		Permission: PermManageTimers,
		Help:       "recurring channel messages",
	}
	sub := func(c *commands.Command) {
		c.Permission = PermManageTimers
		root.MustSub(c)
	}

	sub(&commands.Command{
		Name:   "add",
		Syntax: "<name> <seconds> <message...>",
		Params: []commands.Param{{Name: "name"}, {Name: "seconds", Type: commands.Int}, {Name: "message", Variadic: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			err := engine.Set(ctx, &domain.MessageTimer{
				Channel:         inv.Channel,
				Name:            inv.String(0),
				IntervalSeconds: inv.Int(1),
				Message:         inv.Rest(2),
				Active:          true,
			})
			if err != nil {
				return userError(ctx, inv, err, timers.ErrIntervalTooShort)
			}
			return inv.Replyf(ctx, "timer %s runs every %ds", strings.ToLower(inv.String(0)), inv.Int(1))
		},
	})
	sub(&commands.Command{
		Name:   "del",
		Syntax: "<name>",
		Params: []commands.Param{{Name: "name"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := engine.Delete(ctx, inv.Channel, inv.String(0)); err != nil {
				return timerError(ctx, inv, err)
			}
			return inv.Replyf(ctx, "timer %s deleted", inv.String(0))
		},
	})
	sub(&commands.Command{
		Name:   "start",
		Syntax: "<name>",
		Params: []commands.Param{{Name: "name"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := engine.Activate(ctx, inv.Channel, inv.String(0)); err != nil {
				return timerError(ctx, inv, err)
			}
			return inv.Replyf(ctx, "timer %s started", inv.String(0))
		},
	})
	sub(&commands.Command{
		Name:   "stop",
		Syntax: "<name>",
		Params: []commands.Param{{Name: "name"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := engine.Deactivate(ctx, inv.Channel, inv.String(0)); err != nil {
				return timerError(ctx, inv, err)
			}
			return inv.Replyf(ctx, "timer %s stopped", inv.String(0))
		},
	})
	sub(&commands.Command{
		Name:   "interval",
		Syntax: "<name> <seconds>",
		Params: []commands.Param{{Name: "name"}, {Name: "seconds", Type: commands.Int}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := engine.SetInterval(ctx, inv.Channel, inv.String(0), inv.Int(1)); err != nil {
				return timerError(ctx, inv, err)
			}
			return inv.Replyf(ctx, "timer %s now runs every %ds", inv.String(0), inv.Int(1))
		},
	})
	sub(&commands.Command{
		Name: "list",
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			list := engine.List(inv.Channel)
			if len(list) == 0 {
				return inv.Reply(ctx, "no timers")
			}
			parts := make([]string, 0, len(list))
			for _, t := range list {
				state := "off"
				if t.Active {
					state = "on"
				}
				parts = append(parts, fmt.Sprintf("%s (%ds, %s)", t.Name, t.IntervalSeconds, state))
			}
			return inv.Reply(ctx, "timers: "+strings.Join(parts, ", "))
		},
	})
	return root
}

func timerError(ctx context.Context, inv *commands.Invocation, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return inv.Replyf(ctx, "no timer named %s", inv.String(0))
	}
	return userError(ctx, inv, err, timers.ErrIntervalTooShort)
}

func (s *set) poll() *commands.Command {
	return &commands.Command{
		Name:       "poll",
		Context:    commands.ContextChannel,
		Permission: PermManagePolls,
		Syntax:     "<seconds> <title> <choice> <choice...>",
		Help:       "start a poll; quote titles and choices with spaces",
		Params: []commands.Param{
			{Name: "seconds", Type: commands.Int},
			{Name: "title"},
			{Name: "choices", Variadic: true},
		},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			choices := inv.Strings(2)
			if len(choices) < 2 {
				return commands.InvalidArguments("a poll needs at least two choices")
			}
			if inv.Int(0) < 1 {
				return commands.InvalidArguments("duration must be positive")
			}
			_, err := s.deps.Polls.Start(ctx, inv.Channel, inv.User(), inv.String(1), choices, time.Duration(inv.Int(0))*time.Second)
			return err
		},
	}
}

func (s *set) vote() *commands.Command {
	return &commands.Command{
		Name:    "vote",
		Context: commands.ContextChannel,
		Syntax:  "<poll> <choice>",
		Help:    "vote in a running poll",
		Params:  []commands.Param{{Name: "poll", Type: commands.Int}, {Name: "choice", Type: commands.Int}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			err := s.deps.Polls.Vote(inv.Channel, int64(inv.Int(0)), inv.User(), inv.Int(1))
			if err != nil {
				if errors.Is(err, polls.ErrAlreadyVoted) || errors.Is(err, polls.ErrInvalidChoice) || errors.Is(err, polls.ErrPollNotFound) {
					return inv.Whisper(ctx, err.Error())
				}
				return err
			}
			return nil
		},
	}
}

func formatQuote(q *domain.Quote) string {
	text := fmt.Sprintf("#%d: %s", q.ID, q.Text)
	if q.User != "" {
		text += " (" + q.User + ")"
	}
	return text
}

func (s *set) quote() *commands.Command {
	repo := s.deps.Quotes
	root := &commands.Command{
		Name:     "quote",
		Context:  commands.ContextChannel,
		Cooldown: 5 * time.Second,
		Syntax:   "[id|alias]",
		Help:     "show a quote, random without an argument",
		Params:   []commands.Param{{Name: "id", Optional: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			var (
				q   *domain.Quote
				err error
			)
			arg := inv.String(0)
			switch id, convErr := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64); {
			case arg == "":
				q, err = repo.RandomQuote(ctx, inv.Channel)
			case convErr == nil:
				q, err = repo.GetQuote(ctx, inv.Channel, id)
			default:
				q, err = repo.GetQuoteByAlias(ctx, inv.Channel, arg)
			}
			if errors.Is(err, domain.ErrNotFound) {
				return inv.Reply(ctx, "no such quote")
			}
			if err != nil {
				return err
			}
			return inv.Reply(ctx, formatQuote(q))
		},
	}
	root.MustSub(&commands.Command{
		Name:       "add",
		Permission: PermManageQuotes,
		Syntax:     "<text...>",
		Params:     []commands.Param{{Name: "text", Variadic: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			q, err := repo.AddQuote(ctx, &domain.Quote{
				Channel: inv.Channel,
				Text:    inv.Rest(0),
				User:    inv.User(),
			})
			if err != nil {
				return err
			}
			return inv.Replyf(ctx, "quote #%d added", q.ID)
		},
	})
	root.MustSub(&commands.Command{
		Name:       "alias",
		Permission: PermManageQuotes,
		Syntax:     "<alias> <text...>",
		Params:     []commands.Param{{Name: "alias"}, {Name: "text", Variadic: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			q, err := repo.AddQuote(ctx, &domain.Quote{
				Channel: inv.Channel,
				Alias:   strings.ToLower(inv.String(0)),
				Text:    inv.Rest(1),
				User:    inv.User(),
			})
			if err != nil {
				return err
			}
			return inv.Replyf(ctx, "quote #%d added as %s", q.ID, q.Alias)
		},
	})
	root.MustSub(&commands.Command{
		Name:       "del",
		Permission: PermManageQuotes,
		Syntax:     "<id>",
		Params:     []commands.Param{{Name: "id", Type: commands.Int}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			err := repo.DeleteQuote(ctx, inv.Channel, int64(inv.Int(0)))
			if errors.Is(err, domain.ErrNotFound) {
				return inv.Reply(ctx, "no such quote")
			}
			if err != nil {
				return err
			}
			return inv.Replyf(ctx, "quote #%d deleted", inv.Int(0))
		},
	})
	return root
}

// counterOp parses "+", "-", "+n", "-n" and "=n".
func counterOp(op string) (delta int, set bool, err error) {
	switch {
	case op == "+":
		return 1, false, nil
	case op == "-":
		return -1, false, nil
	case strings.HasPrefix(op, "="):
		n, err := strconv.Atoi(op[1:])
		return n, true, err
	case strings.HasPrefix(op, "+"), strings.HasPrefix(op, "-"):
		n, err := strconv.Atoi(op)
		return n, false, err
	}
	return 0, false, fmt.Errorf("unknown operation %q", op)
}

func (s *set) counter() *commands.Command {
	repo := s.deps.Counters
	return &commands.Command{
		Name:    "counter",
		Context: commands.ContextChannel,
		Syntax:  "<name> [+|-|+n|-n|=n]",
		Help:    "show or change a counter",
		Params:  []commands.Param{{Name: "name"}, {Name: "op", Optional: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			name := strings.ToLower(inv.String(0))
			op := inv.String(1)
			if op == "" {
				c, err := repo.GetCounter(ctx, inv.Channel, name)
				if errors.Is(err, domain.ErrNotFound) {
					return inv.Replyf(ctx, "%s: 0", name)
				}
				if err != nil {
					return err
				}
				return inv.Replyf(ctx, "%s: %d", name, c.Value)
			}

			if !s.can(inv, PermManageCounters) {
				return inv.Whisper(ctx, "you do not have permission to change counters")
			}
			delta, set, err := counterOp(op)
			if err != nil {
				return commands.InvalidArguments(err.Error())
			}
			value := delta
			if set {
				err = repo.SetCounter(ctx, &domain.Counter{Channel: inv.Channel, Name: name, Value: delta})
			} else {
				var c *domain.Counter
				if c, err = repo.AddCounter(ctx, inv.Channel, name, delta); err == nil {
					value = c.Value
				}
			}
			if err != nil {
				return err
			}
			return inv.Replyf(ctx, "%s: %d", name, value)
		},
	}
}

func (s *set) currencyName(ctx context.Context, channel string) string {
	if s.deps.Currency != nil {
		if c, err := s.deps.Currency.GetCurrencyName(ctx, channel); err == nil && c.Name != "" {
			return c.Name
		}
	}
	return "points"
}

func (s *set) balance() *commands.Command {
	return &commands.Command{
		Name:    "balance",
		Aliases: []string{"points"},
		Context: commands.ContextChannel,
		Syntax:  "[user]",
		Help:    "show how many points someone has",
		Params:  []commands.Param{{Name: "user", Type: commands.User, Optional: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			user := inv.String(0)
			if user == "" {
				user = inv.User()
			}
			amount := s.deps.DefaultBalance
			b, err := s.deps.Balances.GetBalance(ctx, inv.Channel, user)
			switch {
			case err == nil:
				amount = b.Amount
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
			return inv.Replyf(ctx, "@%s has %d %s", user, amount, s.currencyName(ctx, inv.Channel))
		},
	}
}

func (s *set) currency() *commands.Command {
	return &commands.Command{
		Name:    "currency",
		Context: commands.ContextChannel,
		Syntax:  "[name]",
		Help:    "show or rename the channel currency",
		Params:  []commands.Param{{Name: "name", Optional: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			name := strings.TrimSpace(inv.String(0))
			if name == "" {
				return inv.Replyf(ctx, "the currency here is %s", s.currencyName(ctx, inv.Channel))
			}
			if !s.can(inv, PermManageCurrency) {
				return inv.Whisper(ctx, "you do not have permission to rename the currency")
			}
			if err := s.deps.Currency.SetCurrencyName(ctx, &domain.CurrencyName{Channel: inv.Channel, Name: name}); err != nil {
				return err
			}
			return inv.Replyf(ctx, "the currency is now called %s", name)
		},
	}
}
