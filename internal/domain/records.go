package domain

import (
	"context"
	"time"
)

type Quote struct {
	ID        int64
	Channel   string
	Alias     string
	Text      string
	User      string
	CreatedAt time.Time
}

type QuoteRepository interface {
	AddQuote(ctx context.Context, q *Quote) (*Quote, error)
	GetQuote(ctx context.Context, channel string, id int64) (*Quote, error)
	GetQuoteByAlias(ctx context.Context, channel, alias string) (*Quote, error)
	RandomQuote(ctx context.Context, channel string) (*Quote, error)
	DeleteQuote(ctx context.Context, channel string, id int64) error
}

type Counter struct {
	Channel string
	Name    string
	Value   int
}

type CounterRepository interface {
	GetCounter(ctx context.Context, channel, name string) (*Counter, error)
	SetCounter(ctx context.Context, c *Counter) error
	AddCounter(ctx context.Context, channel, name string, delta int) (*Counter, error)
	DeleteCounter(ctx context.Context, channel, name string) error
}

type Balance struct {
	Channel string
	User    string
	Amount  int
}

// BalanceRepository returns ErrNotFound for users without a row; callers
// apply the configured default balance.
type BalanceRepository interface {
	GetBalance(ctx context.Context, channel, user string) (*Balance, error)
	SetBalance(ctx context.Context, b *Balance) error
	AddBalance(ctx context.Context, channel, user string, delta, initial int) (*Balance, error)
}

type CurrencyName struct {
	Channel string
	Name    string
}

type CurrencyRepository interface {
	GetCurrencyName(ctx context.Context, channel string) (*CurrencyName, error)
	SetCurrencyName(ctx context.Context, c *CurrencyName) error
}

type MessageTimer struct {
	Channel         string
	Name            string
	Message         string
	IntervalSeconds int
	Active          bool
}

type MessageTimerRepository interface {
	SaveMessageTimer(ctx context.Context, t *MessageTimer) error
	GetMessageTimer(ctx context.Context, channel, name string) (*MessageTimer, error)
	ListMessageTimers(ctx context.Context, channel string) ([]*MessageTimer, error)
	DeleteMessageTimer(ctx context.Context, channel, name string) error
}

// ToggleRepository stores the per-channel disabled command and mod lists.
type ToggleRepository interface {
	DisabledCommands(ctx context.Context, channel string) ([]string, error)
	SetDisabledCommands(ctx context.Context, channel string, names []string) error
	DisabledMods(ctx context.Context, channel string) ([]string, error)
	SetDisabledMods(ctx context.Context, channel string, names []string) error
}
