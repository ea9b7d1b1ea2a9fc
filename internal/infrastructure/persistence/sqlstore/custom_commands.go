package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"twitchbot/internal/domain"
)

func (s *Store) UpsertCustomCommand(ctx context.Context, cmd *domain.CustomCommand) error {
	if cmd == nil {
		return fmt.Errorf("sqlstore: custom command nil")
	}
	if cmd.UpdatedAt.IsZero() {
		cmd.UpdatedAt = time.Now().UTC()
	}

	const stmt = `
INSERT INTO custom_commands (channel, name, response, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(channel, name) DO UPDATE SET
	response=excluded.response,
	updated_at=excluded.updated_at;
`
	_, err := s.exec(ctx, stmt, key(cmd.Channel), key(cmd.Name), cmd.Response, cmd.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert custom command: %w", err)
	}
	return nil
}

func (s *Store) GetCustomCommand(ctx context.Context, channel, name string) (*domain.CustomCommand, error) {
	const query = `
SELECT channel, name, response, updated_at
FROM custom_commands
WHERE channel = ? AND name = ?
LIMIT 1;
`
	var record domain.CustomCommand
	var updatedAt sql.NullTime
	err := s.queryRow(ctx, query, key(channel), key(name)).
		Scan(&record.Channel, &record.Name, &record.Response, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get custom command: %w", err)
	}
	record.UpdatedAt = updatedAt.Time
	return &record, nil
}

func (s *Store) ListCustomCommands(ctx context.Context, channel string) ([]*domain.CustomCommand, error) {
	const query = `
SELECT channel, name, response, updated_at
FROM custom_commands
WHERE channel = ?
ORDER BY name;
`
	rows, err := s.query(ctx, query, key(channel))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list custom commands: %w", err)
	}
	defer rows.Close()

	var cmds []*domain.CustomCommand
	for rows.Next() {
		var record domain.CustomCommand
		var updatedAt sql.NullTime
		if err := rows.Scan(&record.Channel, &record.Name, &record.Response, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan custom command: %w", err)
		}
		record.UpdatedAt = updatedAt.Time
		cmds = append(cmds, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: list custom command rows: %w", err)
	}
	return cmds, nil
}

func (s *Store) DeleteCustomCommand(ctx context.Context, channel, name string) error {
	res, err := s.exec(ctx, `DELETE FROM custom_commands WHERE channel = ? AND name = ?`, key(channel), key(name))
	if err != nil {
		return fmt.Errorf("sqlstore: delete custom command: %w", err)
	}
	return affected(res)
}

// affected maps a zero-row write to ErrNotFound.
func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
