package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hako/durafmt"

	"twitchbot/internal/domain"
)

// UptimeFunc reports how long channel has been live; false when offline.
type UptimeFunc func(channel string) (time.Duration, bool)

// CustomCommandManager caches each channel's custom commands, loaded from the
// repository on first reference.
type CustomCommandManager struct {
	repo   domain.CustomCommandRepository
	prefix string

	mu         sync.RWMutex
	channels   map[string]map[string]*domain.CustomCommand
	isReserved func(string) bool
	uptime     UptimeFunc
}

func NewCustomCommandManager(repo domain.CustomCommandRepository, prefix string) *CustomCommandManager {
	return &CustomCommandManager{
		repo:     repo,
		prefix:   prefix,
		channels: make(map[string]map[string]*domain.CustomCommand),
	}
}

func (m *CustomCommandManager) SetReservedChecker(fn func(string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isReserved = fn
}

func (m *CustomCommandManager) SetUptime(fn UptimeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uptime = fn
}

func normalizeCommandName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeChannel(channel string) string {
	return strings.TrimPrefix(normalizeCommandName(channel), "#")
}

// stripPrefix turns "!discord" into "discord".
func (m *CustomCommandManager) stripPrefix(name string) string {
	return strings.TrimPrefix(normalizeCommandName(name), m.prefix)
}

func (m *CustomCommandManager) load(ctx context.Context, channel string) (map[string]*domain.CustomCommand, error) {
	m.mu.RLock()
	cmds, ok := m.channels[channel]
	m.mu.RUnlock()
	if ok {
		return cmds, nil
	}

	cmds = make(map[string]*domain.CustomCommand)
	if m.repo != nil {
		list, err := m.repo.ListCustomCommands(ctx, channel)
		if err != nil {
			return nil, fmt.Errorf("custom commands: list %s: %w", channel, err)
		}
		for _, cmd := range list {
			if cmd == nil {
				continue
			}
			if name := normalizeCommandName(cmd.Name); name != "" {
				cmds[name] = cloneCommand(cmd)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.channels[channel]; ok {
		return existing, nil
	}
	m.channels[channel] = cmds
	return cmds, nil
}

func (m *CustomCommandManager) Find(ctx context.Context, channel, name string) (*domain.CustomCommand, error) {
	channel = normalizeChannel(channel)
	key := m.stripPrefix(name)
	if key == "" || channel == "" {
		return nil, domain.ErrNotFound
	}
	cmds, err := m.load(ctx, channel)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cmd, ok := cmds[key]; ok {
		return cloneCommand(cmd), nil
	}
	return nil, domain.ErrNotFound
}

func (m *CustomCommandManager) List(ctx context.Context, channel string) ([]*domain.CustomCommand, error) {
	cmds, err := m.load(ctx, normalizeChannel(channel))
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*domain.CustomCommand, 0, len(cmds))
	for _, cmd := range cmds {
		out = append(out, cloneCommand(cmd))
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *domain.CustomCommand) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

var (
	ErrReservedName  = errors.New("name is reserved by another command")
	ErrCommandExists = errors.New("command already exists")
)

// Upsert creates or replaces a custom command. When create is true an
// existing command is an error; when false a missing one is ErrNotFound.
func (m *CustomCommandManager) Upsert(ctx context.Context, channel, name, response string, create bool) (*domain.CustomCommand, error) {
	channel = normalizeChannel(channel)
	key := m.stripPrefix(name)
	response = strings.TrimSpace(response)
	if key == "" || strings.ContainsAny(key, " \t") {
		return nil, InvalidArguments("invalid command name")
	}
	if response == "" {
		return nil, InvalidArguments("response is required")
	}

	cmds, err := m.load(ctx, channel)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := cmds[key]
	switch {
	case create && existing != nil:
		return nil, fmt.Errorf("%s%s: %w", m.prefix, key, ErrCommandExists)
	case !create && existing == nil:
		return nil, fmt.Errorf("%s%s: %w", m.prefix, key, domain.ErrNotFound)
	}
	if existing == nil && m.isReserved != nil && m.isReserved(key) {
		return nil, fmt.Errorf("%s%s: %w", m.prefix, key, ErrReservedName)
	}

	record := &domain.CustomCommand{
		Channel:   channel,
		Name:      key,
		Response:  response,
		UpdatedAt: time.Now().UTC(),
	}
	if m.repo != nil {
		if err := m.repo.UpsertCustomCommand(ctx, record); err != nil {
			return nil, err
		}
	}
	cmds[key] = cloneCommand(record)
	return cloneCommand(record), nil
}

func (m *CustomCommandManager) Delete(ctx context.Context, channel, name string) error {
	channel = normalizeChannel(channel)
	key := m.stripPrefix(name)
	cmds, err := m.load(ctx, channel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := cmds[key]; !ok {
		return fmt.Errorf("%s%s: %w", m.prefix, key, domain.ErrNotFound)
	}
	if m.repo != nil {
		if err := m.repo.DeleteCustomCommand(ctx, channel, key); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	delete(cmds, key)
	return nil
}

// Command surfaces a custom command as a regular Command whose handler
// renders the response template.
func (m *CustomCommandManager) Command(ctx context.Context, channel, token string) (*Command, bool) {
	record, err := m.Find(ctx, channel, token)
	if err != nil || strings.TrimSpace(record.Response) == "" {
		return nil, false
	}
	return &Command{
		Name:    record.Name,
		Prefix:  m.prefix,
		Context: ContextChannel,
		Help:    "custom command",
		Params:  []Param{{Name: "args", Variadic: true, Optional: true}},
		Handler: func(ctx context.Context, inv *Invocation) error {
			return inv.Reply(ctx, m.Render(record.Response, inv))
		},
	}, true
}

// Render expands %user, %channel and %uptime.
func (m *CustomCommandManager) Render(tpl string, inv *Invocation) string {
	m.mu.RLock()
	uptimeFn := m.uptime
	m.mu.RUnlock()

	uptime := "offline"
	if strings.Contains(tpl, "%uptime") && uptimeFn != nil {
		if d, ok := uptimeFn(inv.Channel); ok {
			uptime = FormatDuration(d)
		}
	}

	user := ""
	if inv.Event != nil {
		user = inv.Event.DisplayName()
	}
	return strings.NewReplacer(
		"%user", user,
		"%channel", inv.Channel,
		"%uptime", uptime,
	).Replace(tpl)
}

// FormatDuration renders d as e.g. "2 hours 5 minutes".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}

func cloneCommand(cmd *domain.CustomCommand) *domain.CustomCommand {
	if cmd == nil {
		return nil
	}
	copyCmd := *cmd
	return &copyCmd
}
