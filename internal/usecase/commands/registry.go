package commands

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps full names and aliases to root commands.
type Registry struct {
	prefix string

	mu    sync.RWMutex
	byKey map[string]*Command
}

func NewRegistry(prefix string) *Registry {
	if prefix == "" {
		prefix = "!"
	}
	return &Registry{
		prefix: prefix,
		byKey:  make(map[string]*Command),
	}
}

func (r *Registry) Prefix() string { return r.prefix }

// Register adds a root command under prefix+name and prefix+alias. A
// duplicate full name or alias is an error and nothing is registered.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil || (cmd.Handler == nil && len(cmd.order) == 0) {
		return fmt.Errorf("commands: command without handler")
	}
	cmd.Name = strings.ToLower(strings.TrimSpace(cmd.Name))
	if cmd.Name == "" {
		return fmt.Errorf("commands: empty command name")
	}
	if cmd.Prefix == "" {
		cmd.Prefix = r.prefix
	}

	keys := []string{cmd.Prefix + cmd.Name}
	for _, alias := range cmd.Aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias != "" {
			keys = append(keys, cmd.Prefix+alias)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if existing, ok := r.byKey[k]; ok {
			return fmt.Errorf("commands: %s already registered by %s", k, existing.FullName())
		}
	}
	for _, k := range keys {
		r.byKey[k] = cmd
	}
	return nil
}

// MustRegister panics on a duplicate; for built-in command sets.
func (r *Registry) MustRegister(cmds ...*Command) {
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Unregister removes the command with fullName and all its aliases.
func (r *Registry) Unregister(fullName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.byKey[strings.ToLower(fullName)]
	if !ok {
		return false
	}
	for k, c := range r.byKey {
		if c == cmd {
			delete(r.byKey, k)
		}
	}
	return true
}

// UnregisterMod drops every command owned by mod and returns how many roots
// were removed.
func (r *Registry) UnregisterMod(mod string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := map[*Command]struct{}{}
	for k, c := range r.byKey {
		if c.Mod == mod && mod != "" {
			removed[c] = struct{}{}
			delete(r.byKey, k)
		}
	}
	return len(removed)
}

// Lookup finds a root command by its first token (prefix included).
func (r *Registry) Lookup(token string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byKey[strings.ToLower(token)]
	return cmd, ok
}

// Resolve matches parts[0] to a root, then consumes tokens while they name a
// sub-command. It returns the deepest command and the remaining tokens.
func (r *Registry) Resolve(parts []string) (*Command, []string, bool) {
	if len(parts) == 0 {
		return nil, nil, false
	}
	cmd, ok := r.Lookup(parts[0])
	if !ok {
		return nil, nil, false
	}
	return Descend(cmd, parts[1:])
}

// Descend walks sub-commands of cmd along args.
func Descend(cmd *Command, args []string) (*Command, []string, bool) {
	for len(args) > 0 {
		sub, ok := cmd.Sub(args[0])
		if !ok {
			break
		}
		cmd, args = sub, args[1:]
	}
	return cmd, args, true
}

// IsReserved reports whether name, with or without the prefix, is taken.
func (r *Registry) IsReserved(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(name, r.prefix) {
		name = r.prefix + name
	}
	_, ok := r.Lookup(name)
	return ok
}

// List returns the distinct root commands sorted by full name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	seen := make(map[*Command]struct{}, len(r.byKey))
	out := make([]*Command, 0, len(r.byKey))
	for _, c := range r.byKey {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}
