package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	disabledCommandsKey = "disabled_commands:"
	disabledModsKey     = "disabled_mods:"
)

func (s *Store) DisabledCommands(ctx context.Context, channel string) ([]string, error) {
	return s.getList(ctx, disabledCommandsKey+key(channel))
}

func (s *Store) SetDisabledCommands(ctx context.Context, channel string, names []string) error {
	return s.setList(ctx, disabledCommandsKey+key(channel), names)
}

func (s *Store) DisabledMods(ctx context.Context, channel string) ([]string, error) {
	return s.getList(ctx, disabledModsKey+key(channel))
}

func (s *Store) SetDisabledMods(ctx context.Context, channel string, names []string) error {
	return s.setList(ctx, disabledModsKey+key(channel), names)
}

func (s *Store) getList(ctx context.Context, k string) ([]string, error) {
	var raw sql.NullString
	err := s.queryRow(ctx, `SELECT value FROM settings WHERE key = ?`, k).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: get setting %s: %w", k, err)
	}
	if strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("sqlstore: decode setting %s: %w", k, err)
	}
	return out, nil
}

// setList stores names sorted and deduplicated.
func (s *Store) setList(ctx context.Context, k string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	clean := make([]string, 0, len(names))
	for _, n := range names {
		n = key(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		clean = append(clean, n)
	}
	sort.Strings(clean)

	encoded, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("sqlstore: encode setting %s: %w", k, err)
	}

	const stmt = `
INSERT INTO settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at;
`
	if _, err := s.exec(ctx, stmt, k, string(encoded), time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlstore: save setting %s: %w", k, err)
	}
	return nil
}
