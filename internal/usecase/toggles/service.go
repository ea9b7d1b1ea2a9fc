// Package toggles tracks which commands and mods are switched off per
// channel.
package toggles

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
)

type kind int

const (
	kindCommand kind = iota
	kindMod
)

type key struct {
	kind    kind
	channel string
}

// Service caches the disabled lists in memory; the repository is read on
// first reference and written on every change. A nil repository keeps the
// lists in memory only.
type Service struct {
	repo domain.ToggleRepository

	mu    sync.RWMutex
	lists map[key]map[string]struct{}
}

func NewService(repo domain.ToggleRepository) *Service {
	return &Service{
		repo:  repo,
		lists: make(map[key]map[string]struct{}),
	}
}

func norm(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "#"))
}

func (s *Service) load(ctx context.Context, k key) (map[string]struct{}, error) {
	s.mu.RLock()
	set, ok := s.lists[k]
	s.mu.RUnlock()
	if ok {
		return set, nil
	}

	var names []string
	if s.repo != nil {
		var err error
		if k.kind == kindCommand {
			names, err = s.repo.DisabledCommands(ctx, k.channel)
		} else {
			names, err = s.repo.DisabledMods(ctx, k.channel)
		}
		if err != nil {
			return nil, fmt.Errorf("toggles: load %s: %w", k.channel, err)
		}
	}
	set = make(map[string]struct{}, len(names))
	for _, n := range names {
		set[norm(n)] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.lists[k]; ok {
		return existing, nil
	}
	s.lists[k] = set
	return set, nil
}

func (s *Service) set(ctx context.Context, k key, name string, disabled bool) error {
	name = norm(name)
	if name == "" {
		return fmt.Errorf("toggles: empty name")
	}
	set, err := s.load(ctx, k)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if disabled {
		set[name] = struct{}{}
	} else {
		delete(set, name)
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	if s.repo == nil {
		return nil
	}
	if k.kind == kindCommand {
		return s.repo.SetDisabledCommands(ctx, k.channel, names)
	}
	return s.repo.SetDisabledMods(ctx, k.channel, names)
}

func (s *Service) has(ctx context.Context, k key, name string) bool {
	set, err := s.load(ctx, k)
	if err != nil {
		logger.Channel(k.channel).Warn("toggle lookup failed", "error", err)
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := set[norm(name)]
	return ok
}

func (s *Service) list(ctx context.Context, k key) ([]string, error) {
	set, err := s.load(ctx, k)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Command names are full names, e.g. "!roll".
func (s *Service) DisableCommand(ctx context.Context, channel, name string) error {
	return s.set(ctx, key{kindCommand, norm(channel)}, name, true)
}

func (s *Service) EnableCommand(ctx context.Context, channel, name string) error {
	return s.set(ctx, key{kindCommand, norm(channel)}, name, false)
}

func (s *Service) CommandDisabled(ctx context.Context, channel, name string) bool {
	return s.has(ctx, key{kindCommand, norm(channel)}, name)
}

func (s *Service) DisabledCommands(ctx context.Context, channel string) ([]string, error) {
	return s.list(ctx, key{kindCommand, norm(channel)})
}

func (s *Service) DisableMod(ctx context.Context, channel, name string) error {
	return s.set(ctx, key{kindMod, norm(channel)}, name, true)
}

func (s *Service) EnableMod(ctx context.Context, channel, name string) error {
	return s.set(ctx, key{kindMod, norm(channel)}, name, false)
}

func (s *Service) ModDisabled(ctx context.Context, channel, name string) bool {
	return s.has(ctx, key{kindMod, norm(channel)}, name)
}
