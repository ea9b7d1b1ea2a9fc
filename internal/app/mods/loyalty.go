package mods

import (
	"context"
	"sync"
	"time"

	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/usecase/hooks"
)

// Loyalty credits every current chatter of every joined channel on a fixed
// interval. It does nothing unless both interval and amount are positive.
type Loyalty struct {
	hooks.Base
	env *Env

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoyalty() Mod {
	return &Loyalty{}
}

func (l *Loyalty) Name() string { return "loyalty" }

func (l *Loyalty) Loaded(ctx context.Context, env *Env) error {
	l.env = env
	if env == nil || env.Balances == nil || env.Channels == nil ||
		env.LoyaltyInterval <= 0 || env.LoyaltyAmount == 0 {
		logger.Service("loyalty").Debug("loyalty payouts off")
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.mu.Lock()
	l.cancel = cancel
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(env.LoyaltyInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				l.Payout(runCtx)
			}
		}
	}()
	return nil
}

// Payout credits LoyaltyAmount to each chatter once, skipping the bot.
func (l *Loyalty) Payout(ctx context.Context) int {
	env := l.env
	credited := 0
	for _, channel := range env.Channels.Names() {
		for _, user := range env.Channels.Chatters(channel) {
			if user == "" || user == env.BotNick {
				continue
			}
			if _, err := env.Balances.AddBalance(ctx, channel, user, env.LoyaltyAmount, env.DefaultBalance); err != nil {
				if ctx.Err() != nil {
					return credited
				}
				logger.Channel(channel).Warn("loyalty credit failed", "user", user, "error", err)
				continue
			}
			credited++
		}
	}
	if credited > 0 {
		logger.Service("loyalty").Debug("loyalty paid", "chatters", credited, "amount", env.LoyaltyAmount)
	}
	return credited
}

func (l *Loyalty) Unloaded(context.Context) {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Builtin registers the mods shipped with the bot.
func Builtin(r *Registry) error {
	if err := r.Register("eventlog", NewEventLog); err != nil {
		return err
	}
	return r.Register("loyalty", NewLoyalty)
}
