package commands

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	CommandSourceBuiltin = "builtin"
	CommandSourceMod     = "mod"
	CommandSourceCustom  = "custom"
)

// CommandDTO describes a command for listings and the ops API.
type CommandDTO struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Response    string   `json:"response,omitempty"`
	Permission  string   `json:"permission,omitempty"`
	Cooldown    int      `json:"cooldown_seconds,omitempty"`
	Context     string   `json:"context"`
	Usage       string   `json:"usage,omitempty"`
	Description string   `json:"description,omitempty"`
	Mod         string   `json:"mod,omitempty"`
	Subcommands []string `json:"subcommands,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
	Source      string   `json:"source"`
	Editable    bool     `json:"editable"`
}

// Service joins registered and custom commands into one catalog.
type Service struct {
	registry *Registry
	manager  *CustomCommandManager
}

func NewService(registry *Registry, manager *CustomCommandManager) *Service {
	return &Service{registry: registry, manager: manager}
}

// List returns every command visible in channel: registered ones first,
// then the channel's custom commands.
func (s *Service) List(ctx context.Context, channel string) ([]CommandDTO, error) {
	if s == nil || s.registry == nil {
		return nil, fmt.Errorf("commands service unavailable")
	}

	var out []CommandDTO
	for _, cmd := range s.registry.List() {
		out = append(out, commandDTOFromCommand(cmd))
	}
	if s.manager == nil || channel == "" {
		return out, nil
	}

	custom, err := s.manager.List(ctx, channel)
	if err != nil {
		return nil, err
	}
	for _, cmd := range custom {
		updated := ""
		if !cmd.UpdatedAt.IsZero() {
			updated = cmd.UpdatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, CommandDTO{
			Name:      s.registry.Prefix() + cmd.Name,
			Response:  cmd.Response,
			Context:   ContextChannel.String(),
			UpdatedAt: updated,
			Source:    CommandSourceCustom,
			Editable:  true,
		})
	}
	return out, nil
}

// Names lists command names only, for the chat listing.
func (s *Service) Names(ctx context.Context, channel string) ([]string, error) {
	list, err := s.List(ctx, channel)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Name)
	}
	return names, nil
}

func commandDTOFromCommand(cmd *Command) CommandDTO {
	source := CommandSourceBuiltin
	if cmd.Mod != "" {
		source = CommandSourceMod
	}
	subs := make([]string, 0, len(cmd.order))
	for _, sub := range cmd.Subcommands() {
		subs = append(subs, sub.Name)
	}
	aliases := make([]string, 0, len(cmd.Aliases))
	for _, a := range cmd.Aliases {
		aliases = append(aliases, cmd.Prefix+strings.ToLower(a))
	}
	return CommandDTO{
		Name:        cmd.FullName(),
		Aliases:     aliases,
		Permission:  cmd.Permission,
		Cooldown:    int(cmd.Cooldown / time.Second),
		Context:     cmd.Mask().String(),
		Usage:       cmd.Usage(),
		Description: cmd.Help,
		Mod:         cmd.Mod,
		Subcommands: subs,
		Source:      source,
	}
}
