// Package mods loads the bot's extension modules. Mods are linked in at build
// time and registered by name; a descriptor file picks which of them load.
package mods

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"twitchbot/internal/app/events"
	"twitchbot/internal/app/replywait"
	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/usecase/commands"
	"twitchbot/internal/usecase/hooks"
)

// DescriptorFile is read from the mods folder.
const DescriptorFile = "mods.toml"

var ErrUnknownMod = errors.New("unknown mod")

// Mod is an extension. Loaded may register commands on env.Commands with Mod
// set to its name; they are dropped again when the mod unloads.
type Mod interface {
	hooks.Hooks
	Name() string
	Loaded(ctx context.Context, env *Env) error
	Unloaded(ctx context.Context)
}

type Factory func() Mod

// ChatterSource is the view of joined channels mods get.
type ChatterSource interface {
	Names() []string
	Chatters(channel string) []string
}

// Env is what a mod may reach. Fields other than Sender and Commands may be
// nil.
type Env struct {
	Sender        domain.ChatSender
	Commands      *commands.Registry
	Channels      ChatterSource
	Balances      domain.BalanceRepository
	Notifications domain.NotificationRepository
	Bus           *events.Bus
	Replies       *replywait.Queue
	BotNick       string

	DefaultBalance  int
	LoyaltyInterval time.Duration
	LoyaltyAmount   int
}

// DisabledChecker reports per-channel mod toggles.
type DisabledChecker interface {
	ModDisabled(ctx context.Context, channel, name string) bool
}

type descriptor struct {
	Mods []struct {
		Name    string `toml:"name"`
		Enabled *bool  `toml:"enabled"`
	} `toml:"mod"`
}

// Registry owns the loaded mods. Dispatch reads a snapshot slice that is
// replaced, never mutated, on load and reload.
type Registry struct {
	env      *Env
	dir      string
	disabled DisabledChecker

	mu        sync.Mutex
	factories map[string]Factory
	order     []string
	loaded    map[string]Mod
	active    []Mod
}

func NewRegistry(env *Env, dir string, disabled DisabledChecker) *Registry {
	return &Registry{
		env:       env,
		dir:       dir,
		disabled:  disabled,
		factories: make(map[string]Factory),
		loaded:    make(map[string]Mod),
	}
}

// Register adds a factory. Registration order is load and dispatch order.
func (r *Registry) Register(name string, f Factory) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || f == nil {
		return fmt.Errorf("mods: invalid registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("mods: %s registered twice", name)
	}
	r.factories[name] = f
	r.order = append(r.order, name)
	return nil
}

// enabled reads the descriptor. A missing file enables every factory; a mod
// listed without an enabled key is enabled.
func (r *Registry) enabled() (map[string]bool, error) {
	out := make(map[string]bool, len(r.order))
	path := filepath.Join(r.dir, DescriptorFile)
	var d descriptor
	if _, err := toml.DecodeFile(path, &d); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			for _, name := range r.order {
				out[name] = true
			}
			return out, nil
		}
		return nil, fmt.Errorf("mods: read %s: %w", path, err)
	}
	for _, m := range d.Mods {
		name := strings.ToLower(strings.TrimSpace(m.Name))
		if _, ok := r.factories[name]; !ok {
			logger.Service("mods").Warn("descriptor names unknown mod", "mod", m.Name)
			continue
		}
		out[name] = m.Enabled == nil || *m.Enabled
	}
	return out, nil
}

// LoadAll loads every enabled mod. A mod whose Loaded fails is skipped and
// logged.
func (r *Registry) LoadAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	enabled, err := r.enabled()
	if err != nil {
		return err
	}
	for _, name := range r.order {
		if !enabled[name] || r.loaded[name] != nil {
			continue
		}
		if err := r.load(ctx, name); err != nil {
			logger.Service("mods").Error("mod failed to load", "mod", name, "error", err)
		}
	}
	r.publish()
	return nil
}

// load builds and starts name. Callers hold r.mu.
func (r *Registry) load(ctx context.Context, name string) error {
	m := r.factories[name]()
	if err := m.Loaded(ctx, r.env); err != nil {
		if r.env != nil && r.env.Commands != nil {
			r.env.Commands.UnregisterMod(name)
		}
		return err
	}
	r.loaded[name] = m
	logger.Service("mods").Info("mod loaded", "mod", name)
	return nil
}

// unload stops name. Callers hold r.mu.
func (r *Registry) unload(ctx context.Context, name string) {
	m, ok := r.loaded[name]
	if !ok {
		return
	}
	delete(r.loaded, name)
	if r.env != nil && r.env.Commands != nil {
		r.env.Commands.UnregisterMod(name)
	}
	m.Unloaded(ctx)
	logger.Service("mods").Info("mod unloaded", "mod", name)
}

// publish rebuilds the dispatch snapshot. Callers hold r.mu.
func (r *Registry) publish() {
	active := make([]Mod, 0, len(r.loaded))
	for _, name := range r.order {
		if m, ok := r.loaded[name]; ok {
			active = append(active, m)
		}
	}
	r.active = active
}

// Reload re-reads the descriptor and replaces name with a fresh instance, or
// unloads it when the descriptor now disables it.
func (r *Registry) Reload(ctx context.Context, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMod, name)
	}
	enabled, err := r.enabled()
	if err != nil {
		return err
	}
	r.unload(ctx, name)
	defer r.publish()
	if !enabled[name] {
		return nil
	}
	return r.load(ctx, name)
}

// Active returns the loaded mods not disabled for channel, in load order.
func (r *Registry) Active(ctx context.Context, channel string) []hooks.Named {
	r.mu.Lock()
	snapshot := r.active
	r.mu.Unlock()

	out := make([]hooks.Named, 0, len(snapshot))
	for _, m := range snapshot {
		if channel != "" && r.disabled != nil && r.disabled.ModDisabled(ctx, channel, m.Name()) {
			continue
		}
		out = append(out, hooks.Named{Name: m.Name(), Hooks: m})
	}
	return out
}

// Names lists every registered mod, loaded or not.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Loaded reports whether name is currently loaded.
func (r *Registry) Loaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[strings.ToLower(name)]
	return ok
}

// UnloadAll unloads in reverse load order.
func (r *Registry) UnloadAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		r.unload(ctx, r.order[i])
	}
	r.publish()
}
