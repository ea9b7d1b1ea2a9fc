// Package permissions keeps per-channel permission groups in JSON files under
// <data_dir>/permissions.
package permissions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
)

const AdminGroup = "admin"

var (
	ErrGroupExists   = errors.New("permission group already exists")
	ErrGroupNotFound = errors.New("permission group not found")
)

type channelGroups map[string]*domain.PermissionGroup

// Engine caches each channel's groups after the first reference. Every
// mutation is written to disk before it returns.
type Engine struct {
	dir   string
	owner string

	mu       sync.Mutex
	channels map[string]channelGroups
}

func NewEngine(dir, owner string) *Engine {
	return &Engine{
		dir:      dir,
		owner:    normalize(owner),
		channels: make(map[string]channelGroups),
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "#"))
}

func (e *Engine) path(channel string) string {
	return filepath.Join(e.dir, channel+".json")
}

// groups returns the cached groups for channel, reading or bootstrapping the
// file on first use. Callers hold e.mu.
func (e *Engine) groups(channel string) (channelGroups, error) {
	if g, ok := e.channels[channel]; ok {
		return g, nil
	}
	g, err := e.read(channel)
	if errors.Is(err, os.ErrNotExist) {
		g = e.bootstrap(channel)
		if err := e.write(channel, g); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	e.channels[channel] = g
	return g, nil
}

func (e *Engine) bootstrap(channel string) channelGroups {
	admin := &domain.PermissionGroup{
		Name:        AdminGroup,
		Permissions: []string{domain.PermissionWildcard},
	}
	admin.Members = addSorted(admin.Members, channel)
	if e.owner != "" {
		admin.Members = addSorted(admin.Members, e.owner)
	}
	return channelGroups{AdminGroup: admin}
}

func (e *Engine) read(channel string) (channelGroups, error) {
	data, err := os.ReadFile(e.path(channel))
	if err != nil {
		return nil, err
	}
	g := channelGroups{}
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("permissions: parse %s: %w", e.path(channel), err)
	}
	for key, group := range g {
		if group == nil {
			delete(g, key)
			continue
		}
		if group.Name == "" {
			group.Name = key
		}
		group.Members = sortedSet(group.Members)
		group.Permissions = sortedSet(group.Permissions)
	}
	return g, nil
}

// write serialises groups with sorted keys and replaces the file atomically.
func (e *Engine) write(channel string, g channelGroups) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("permissions: mkdir %s: %w", e.dir, err)
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("permissions: encode %s: %w", channel, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(e.dir, channel+".*.tmp")
	if err != nil {
		return fmt.Errorf("permissions: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("permissions: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("permissions: sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), e.path(channel)); err != nil {
		return fmt.Errorf("permissions: replace %s: %w", e.path(channel), err)
	}
	return nil
}

// mutate runs fn on the channel's groups and persists the result. A failed
// write drops the cache entry so the next reference re-reads the file.
func (e *Engine) mutate(channel string, fn func(channelGroups) error) error {
	channel = normalize(channel)
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.groups(channel)
	if err != nil {
		return err
	}
	if err := fn(g); err != nil {
		return err
	}
	if err := e.write(channel, g); err != nil {
		delete(e.channels, channel)
		return err
	}
	return nil
}

func (e *Engine) AddGroup(channel, name string) error {
	name = normalize(name)
	if name == "" {
		return fmt.Errorf("permissions: empty group name")
	}
	return e.mutate(channel, func(g channelGroups) error {
		if _, ok := g[name]; ok {
			return fmt.Errorf("%s: %w", name, ErrGroupExists)
		}
		g[name] = &domain.PermissionGroup{Name: name, Permissions: []string{}, Members: []string{}}
		return nil
	})
}

func (e *Engine) DeleteGroup(channel, name string) error {
	name = normalize(name)
	return e.mutate(channel, func(g channelGroups) error {
		if _, ok := g[name]; !ok {
			return fmt.Errorf("%s: %w", name, ErrGroupNotFound)
		}
		delete(g, name)
		return nil
	})
}

func (e *Engine) withGroup(channel, name string, fn func(*domain.PermissionGroup)) error {
	name = normalize(name)
	return e.mutate(channel, func(g channelGroups) error {
		group, ok := g[name]
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrGroupNotFound)
		}
		fn(group)
		return nil
	})
}

func (e *Engine) AddMember(channel, group, user string) error {
	user = normalize(strings.TrimPrefix(user, "@"))
	return e.withGroup(channel, group, func(g *domain.PermissionGroup) {
		g.Members = addSorted(g.Members, user)
	})
}

func (e *Engine) RemoveMember(channel, group, user string) error {
	user = normalize(strings.TrimPrefix(user, "@"))
	return e.withGroup(channel, group, func(g *domain.PermissionGroup) {
		g.Members = removeValue(g.Members, user)
	})
}

func (e *Engine) AddPermission(channel, group, perm string) error {
	perm = strings.ToLower(strings.TrimSpace(perm))
	return e.withGroup(channel, group, func(g *domain.PermissionGroup) {
		g.Permissions = addSorted(g.Permissions, perm)
	})
}

func (e *Engine) RemovePermission(channel, group, perm string) error {
	perm = strings.ToLower(strings.TrimSpace(perm))
	return e.withGroup(channel, group, func(g *domain.PermissionGroup) {
		g.Permissions = removeValue(g.Permissions, perm)
	})
}

// HasPermission is true for the owner, for an empty perm, and for members of
// a group granting perm or the wildcard. A channel whose file cannot be read
// grants nothing beyond the owner.
func (e *Engine) HasPermission(channel, user, perm string) bool {
	user = normalize(user)
	perm = strings.ToLower(strings.TrimSpace(perm))
	if perm == "" || (e.owner != "" && user == e.owner) {
		return true
	}
	channel = normalize(channel)
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.groups(channel)
	if err != nil {
		logger.Channel(channel).Error("permission lookup failed", "error", err)
		return false
	}
	for _, group := range g {
		if group.HasMember(user) && group.Grants(perm) {
			return true
		}
	}
	return false
}

// UserPermissions lists the distinct permissions user holds through groups.
func (e *Engine) UserPermissions(channel, user string) ([]string, error) {
	user = normalize(user)
	channel = normalize(channel)
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.groups(channel)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, group := range g {
		if !group.HasMember(user) {
			continue
		}
		for _, p := range group.Permissions {
			out = addSorted(out, p)
		}
	}
	return out, nil
}

// Groups returns copies of the channel's groups sorted by name.
func (e *Engine) Groups(channel string) ([]domain.PermissionGroup, error) {
	channel = normalize(channel)
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.groups(channel)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PermissionGroup, 0, len(g))
	for _, group := range g {
		out = append(out, domain.PermissionGroup{
			Name:        group.Name,
			Permissions: append([]string(nil), group.Permissions...),
			Members:     append([]string(nil), group.Members...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Reload drops the cached groups and reads the file again.
func (e *Engine) Reload(channel string) error {
	channel = normalize(channel)
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.channels, channel)
	_, err := e.groups(channel)
	return err
}

func addSorted(list []string, v string) []string {
	if v == "" {
		return list
	}
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func removeValue(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func sortedSet(list []string) []string {
	out := []string{}
	for _, v := range list {
		out = addSorted(out, strings.ToLower(strings.TrimSpace(v)))
	}
	return out
}
