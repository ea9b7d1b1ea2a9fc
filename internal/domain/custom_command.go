package domain

import (
	"context"
	"time"
)

// CustomCommand is a channel-scoped text command whose response is a template
// with %user, %channel and %uptime placeholders.
type CustomCommand struct {
	Channel   string
	Name      string
	Response  string
	UpdatedAt time.Time
}

type CustomCommandRepository interface {
	UpsertCustomCommand(ctx context.Context, cmd *CustomCommand) error
	GetCustomCommand(ctx context.Context, channel, name string) (*CustomCommand, error)
	ListCustomCommands(ctx context.Context, channel string) ([]*CustomCommand, error)
	DeleteCustomCommand(ctx context.Context, channel, name string) error
}
