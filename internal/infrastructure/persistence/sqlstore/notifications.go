package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"twitchbot/internal/domain"
)

func (s *Store) SaveNotification(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	if notification == nil {
		return nil, fmt.Errorf("sqlstore: notification nil")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	const stmt = `
INSERT INTO notifications (type, channel, username, amount, message, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id;
`
	err := s.queryRow(
		ctx,
		stmt,
		string(notification.Type),
		key(notification.Channel),
		notification.Username,
		notification.Amount,
		notification.Message,
		encodeMetadata(notification.Metadata),
		notification.CreatedAt,
	).Scan(&notification.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: save notification: %w", err)
	}
	return notification, nil
}

// ListNotifications returns the newest notifications first; an empty channel
// lists every channel.
func (s *Store) ListNotifications(ctx context.Context, channel string, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, type, channel, username, amount, message, metadata, created_at
FROM notifications`
	args := []any{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, key(channel))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var (
			record                       domain.Notification
			notificationType, channelCol sql.NullString
			username, message            sql.NullString
			metadata                     sql.NullString
			amount                       sql.NullFloat64
			createdAt                    sql.NullTime
		)
		if err := rows.Scan(
			&record.ID,
			&notificationType,
			&channelCol,
			&username,
			&amount,
			&message,
			&metadata,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlstore: scan notification: %w", err)
		}

		record.Type = domain.NotificationType(notificationType.String)
		record.Channel = channelCol.String
		record.Username = username.String
		record.Amount = amount.Float64
		record.Message = message.String
		record.Metadata = decodeMetadata(metadata.String)
		record.CreatedAt = createdAt.Time
		out = append(out, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: list notifications rows: %w", err)
	}
	return out, nil
}
