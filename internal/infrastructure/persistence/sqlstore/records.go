package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"twitchbot/internal/domain"
)

// ----- Quotes -----

func (s *Store) AddQuote(ctx context.Context, q *domain.Quote) (*domain.Quote, error) {
	if q == nil {
		return nil, fmt.Errorf("sqlstore: quote nil")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	q.Channel = key(q.Channel)

	const stmt = `
INSERT INTO quotes (channel, alias, text, username, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id;
`
	if err := s.queryRow(ctx, stmt, q.Channel, nullString(key(q.Alias)), q.Text, q.User, q.CreatedAt).Scan(&q.ID); err != nil {
		return nil, fmt.Errorf("sqlstore: add quote: %w", err)
	}
	return q, nil
}

const quoteColumns = `id, channel, alias, text, username, created_at`

func scanQuote(row interface{ Scan(...any) error }) (*domain.Quote, error) {
	var (
		q               domain.Quote
		alias, username sql.NullString
		createdAt       sql.NullTime
	)
	if err := row.Scan(&q.ID, &q.Channel, &alias, &q.Text, &username, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: scan quote: %w", err)
	}
	q.Alias = alias.String
	q.User = username.String
	q.CreatedAt = createdAt.Time
	return &q, nil
}

func (s *Store) GetQuote(ctx context.Context, channel string, id int64) (*domain.Quote, error) {
	return scanQuote(s.queryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE channel = ? AND id = ? LIMIT 1`, key(channel), id))
}

func (s *Store) GetQuoteByAlias(ctx context.Context, channel, alias string) (*domain.Quote, error) {
	if key(alias) == "" {
		return nil, domain.ErrNotFound
	}
	return scanQuote(s.queryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE channel = ? AND alias = ? LIMIT 1`, key(channel), key(alias)))
}

func (s *Store) RandomQuote(ctx context.Context, channel string) (*domain.Quote, error) {
	return scanQuote(s.queryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE channel = ? ORDER BY RANDOM() LIMIT 1`, key(channel)))
}

func (s *Store) DeleteQuote(ctx context.Context, channel string, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM quotes WHERE channel = ? AND id = ?`, key(channel), id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete quote: %w", err)
	}
	return affected(res)
}

// ----- Counters -----

func (s *Store) GetCounter(ctx context.Context, channel, name string) (*domain.Counter, error) {
	c := domain.Counter{Channel: key(channel), Name: key(name)}
	err := s.queryRow(ctx, `SELECT value FROM counters WHERE channel = ? AND name = ?`, c.Channel, c.Name).Scan(&c.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get counter: %w", err)
	}
	return &c, nil
}

func (s *Store) SetCounter(ctx context.Context, c *domain.Counter) error {
	if c == nil {
		return fmt.Errorf("sqlstore: counter nil")
	}
	const stmt = `
INSERT INTO counters (channel, name, value)
VALUES (?, ?, ?)
ON CONFLICT(channel, name) DO UPDATE SET value=excluded.value;
`
	if _, err := s.exec(ctx, stmt, key(c.Channel), key(c.Name), c.Value); err != nil {
		return fmt.Errorf("sqlstore: set counter: %w", err)
	}
	return nil
}

// AddCounter adds delta to the counter, creating it at delta when absent.
func (s *Store) AddCounter(ctx context.Context, channel, name string, delta int) (*domain.Counter, error) {
	const stmt = `
INSERT INTO counters (channel, name, value)
VALUES (?, ?, ?)
ON CONFLICT(channel, name) DO UPDATE SET value = counters.value + ?
RETURNING value;
`
	c := domain.Counter{Channel: key(channel), Name: key(name)}
	if err := s.queryRow(ctx, stmt, c.Channel, c.Name, delta, delta).Scan(&c.Value); err != nil {
		return nil, fmt.Errorf("sqlstore: add counter: %w", err)
	}
	return &c, nil
}

func (s *Store) DeleteCounter(ctx context.Context, channel, name string) error {
	res, err := s.exec(ctx, `DELETE FROM counters WHERE channel = ? AND name = ?`, key(channel), key(name))
	if err != nil {
		return fmt.Errorf("sqlstore: delete counter: %w", err)
	}
	return affected(res)
}

// ----- Balances -----

func (s *Store) GetBalance(ctx context.Context, channel, user string) (*domain.Balance, error) {
	b := domain.Balance{Channel: key(channel), User: key(user)}
	err := s.queryRow(ctx, `SELECT amount FROM balances WHERE channel = ? AND username = ?`, b.Channel, b.User).Scan(&b.Amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get balance: %w", err)
	}
	return &b, nil
}

func (s *Store) SetBalance(ctx context.Context, b *domain.Balance) error {
	if b == nil {
		return fmt.Errorf("sqlstore: balance nil")
	}
	const stmt = `
INSERT INTO balances (channel, username, amount)
VALUES (?, ?, ?)
ON CONFLICT(channel, username) DO UPDATE SET amount=excluded.amount;
`
	if _, err := s.exec(ctx, stmt, key(b.Channel), key(b.User), b.Amount); err != nil {
		return fmt.Errorf("sqlstore: set balance: %w", err)
	}
	return nil
}

// AddBalance credits delta, starting new rows at initial+delta.
func (s *Store) AddBalance(ctx context.Context, channel, user string, delta, initial int) (*domain.Balance, error) {
	const stmt = `
INSERT INTO balances (channel, username, amount)
VALUES (?, ?, ?)
ON CONFLICT(channel, username) DO UPDATE SET amount = balances.amount + ?
RETURNING amount;
`
	b := domain.Balance{Channel: key(channel), User: key(user)}
	if err := s.queryRow(ctx, stmt, b.Channel, b.User, initial+delta, delta).Scan(&b.Amount); err != nil {
		return nil, fmt.Errorf("sqlstore: add balance: %w", err)
	}
	return &b, nil
}

// ----- Currency names -----

func (s *Store) GetCurrencyName(ctx context.Context, channel string) (*domain.CurrencyName, error) {
	c := domain.CurrencyName{Channel: key(channel)}
	err := s.queryRow(ctx, `SELECT name FROM currency_names WHERE channel = ?`, c.Channel).Scan(&c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get currency name: %w", err)
	}
	return &c, nil
}

func (s *Store) SetCurrencyName(ctx context.Context, c *domain.CurrencyName) error {
	if c == nil {
		return fmt.Errorf("sqlstore: currency name nil")
	}
	const stmt = `
INSERT INTO currency_names (channel, name)
VALUES (?, ?)
ON CONFLICT(channel) DO UPDATE SET name=excluded.name;
`
	if _, err := s.exec(ctx, stmt, key(c.Channel), c.Name); err != nil {
		return fmt.Errorf("sqlstore: set currency name: %w", err)
	}
	return nil
}

// ----- Message timers -----

func (s *Store) SaveMessageTimer(ctx context.Context, t *domain.MessageTimer) error {
	if t == nil {
		return fmt.Errorf("sqlstore: message timer nil")
	}
	const stmt = `
INSERT INTO message_timers (channel, name, message, interval_seconds, active)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(channel, name) DO UPDATE SET
	message=excluded.message,
	interval_seconds=excluded.interval_seconds,
	active=excluded.active;
`
	if _, err := s.exec(ctx, stmt, key(t.Channel), key(t.Name), t.Message, t.IntervalSeconds, t.Active); err != nil {
		return fmt.Errorf("sqlstore: save message timer: %w", err)
	}
	return nil
}

func scanTimer(row interface{ Scan(...any) error }) (*domain.MessageTimer, error) {
	var t domain.MessageTimer
	if err := row.Scan(&t.Channel, &t.Name, &t.Message, &t.IntervalSeconds, &t.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: scan message timer: %w", err)
	}
	return &t, nil
}

func (s *Store) GetMessageTimer(ctx context.Context, channel, name string) (*domain.MessageTimer, error) {
	return scanTimer(s.queryRow(ctx, `
SELECT channel, name, message, interval_seconds, active
FROM message_timers
WHERE channel = ? AND name = ?`, key(channel), key(name)))
}

// ListMessageTimers lists the channel's timers; an empty channel lists all.
func (s *Store) ListMessageTimers(ctx context.Context, channel string) ([]*domain.MessageTimer, error) {
	query := `SELECT channel, name, message, interval_seconds, active FROM message_timers`
	var args []any
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, key(channel))
	}
	query += ` ORDER BY channel, name`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list message timers: %w", err)
	}
	defer rows.Close()

	var out []*domain.MessageTimer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: list message timer rows: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteMessageTimer(ctx context.Context, channel, name string) error {
	res, err := s.exec(ctx, `DELETE FROM message_timers WHERE channel = ? AND name = ?`, key(channel), key(name))
	if err != nil {
		return fmt.Errorf("sqlstore: delete message timer: %w", err)
	}
	return affected(res)
}
