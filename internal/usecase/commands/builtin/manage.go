package builtin

import (
	"context"

	"twitchbot/internal/domain"
	"twitchbot/internal/usecase/commands"
	"twitchbot/internal/usecase/permissions"
)

func (s *set) addcmd() *commands.Command {
	return &commands.Command{
		Name:       "addcmd",
		Context:    commands.ContextChannel,
		Permission: PermManageCommands,
		Syntax:     "<name> <response...>",
		Help:       "add a custom command; %user, %channel and %uptime are replaced",
		Params:     []commands.Param{{Name: "name"}, {Name: "response", Variadic: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			cmd, err := s.deps.Custom.Upsert(ctx, inv.Channel, inv.String(0), inv.Rest(1), true)
			if err != nil {
				return userError(ctx, inv, err, commands.ErrReservedName, commands.ErrCommandExists)
			}
			return inv.Replyf(ctx, "command %s%s added", s.reg.Prefix(), cmd.Name)
		},
	}
}

func (s *set) editcmd() *commands.Command {
	return &commands.Command{
		Name:       "editcmd",
		Context:    commands.ContextChannel,
		Permission: PermManageCommands,
		Syntax:     "<name> <response...>",
		Help:       "replace a custom command's response",
		Params:     []commands.Param{{Name: "name"}, {Name: "response", Variadic: true}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			cmd, err := s.deps.Custom.Upsert(ctx, inv.Channel, inv.String(0), inv.Rest(1), false)
			if err != nil {
				return userError(ctx, inv, err, domain.ErrNotFound)
			}
			return inv.Replyf(ctx, "command %s%s updated", s.reg.Prefix(), cmd.Name)
		},
	}
}

func (s *set) delcmd() *commands.Command {
	return &commands.Command{
		Name:       "delcmd",
		Context:    commands.ContextChannel,
		Permission: PermManageCommands,
		Syntax:     "<name>",
		Help:       "delete a custom command",
		Params:     []commands.Param{{Name: "name"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := s.deps.Custom.Delete(ctx, inv.Channel, inv.String(0)); err != nil {
				return userError(ctx, inv, err, domain.ErrNotFound)
			}
			return inv.Replyf(ctx, "command %s deleted", s.fullName(inv.String(0)))
		},
	}
}

func (s *set) known(ctx context.Context, channel, full string) bool {
	if _, ok := s.reg.Lookup(full); ok {
		return true
	}
	if s.deps.Custom != nil {
		if _, err := s.deps.Custom.Find(ctx, channel, full); err == nil {
			return true
		}
	}
	return false
}

func (s *set) disablecmd() *commands.Command {
	return &commands.Command{
		Name:       "disablecmd",
		Permission: PermManageCommands,
		Syntax:     "<command>",
		Help:       "turn a command off in this channel",
		Params:     []commands.Param{{Name: "command"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			full := s.fullName(inv.String(0))
			if !s.known(ctx, inv.Channel, full) {
				return inv.Replyf(ctx, "unknown command %s", full)
			}
			if root, ok := s.reg.Lookup(full); ok && root.Name == "enablecmd" {
				return inv.Replyf(ctx, "%s cannot be disabled", root.FullName())
			}
			if root, ok := s.reg.Lookup(full); ok {
				full = root.FullName()
			}
			if err := s.deps.Toggles.DisableCommand(ctx, inv.Channel, full); err != nil {
				return err
			}
			return inv.Replyf(ctx, "%s disabled", full)
		},
	}
}

func (s *set) enablecmd() *commands.Command {
	return &commands.Command{
		Name:       "enablecmd",
		Permission: PermManageCommands,
		Syntax:     "<command>",
		Help:       "turn a disabled command back on",
		Params:     []commands.Param{{Name: "command"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			full := s.fullName(inv.String(0))
			if root, ok := s.reg.Lookup(full); ok {
				full = root.FullName()
			}
			if err := s.deps.Toggles.EnableCommand(ctx, inv.Channel, full); err != nil {
				return err
			}
			return inv.Replyf(ctx, "%s enabled", full)
		},
	}
}

func (s *set) perm() *commands.Command {
	engine := s.deps.Permissions
	known := []error{permissions.ErrGroupExists, permissions.ErrGroupNotFound}

	root := &commands.Command{
		Name:       "perm",
		Permission: PermManagePermissions,
		Help:       "manage permission groups",
	}

	group := root.MustSub(&commands.Command{Name: "group", Permission: PermManagePermissions})
	group.MustSub(&commands.Command{
		Name:       "add",
		Permission: PermManagePermissions,
		Syntax:     "<group>",
		Params:     []commands.Param{{Name: "group"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := engine.AddGroup(inv.Channel, inv.String(0)); err != nil {
				return userError(ctx, inv, err, known...)
			}
			return inv.Replyf(ctx, "group %s added", inv.String(0))
		},
	})
	group.MustSub(&commands.Command{
		Name:       "del",
		Permission: PermManagePermissions,
		Syntax:     "<group>",
		Params:     []commands.Param{{Name: "group"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := engine.DeleteGroup(inv.Channel, inv.String(0)); err != nil {
				return userError(ctx, inv, err, known...)
			}
			return inv.Replyf(ctx, "group %s deleted", inv.String(0))
		},
	})

	member := root.MustSub(&commands.Command{Name: "member", Permission: PermManagePermissions})
	memberOp := func(name, verb string, op func(channel, group, user string) error) {
		member.MustSub(&commands.Command{
			Name:       name,
			Permission: PermManagePermissions,
			Syntax:     "<group> <user>",
			Params:     []commands.Param{{Name: "group"}, {Name: "user", Type: commands.User}},
			Handler: func(ctx context.Context, inv *commands.Invocation) error {
				if err := op(inv.Channel, inv.String(0), inv.String(1)); err != nil {
					return userError(ctx, inv, err, known...)
				}
				return inv.Replyf(ctx, "%s %s %s", inv.String(1), verb, inv.String(0))
			},
		})
	}
	memberOp("add", "added to", engine.AddMember)
	memberOp("del", "removed from", engine.RemoveMember)

	perm := root.MustSub(&commands.Command{Name: "perm", Permission: PermManagePermissions})
	permOp := func(name, verb string, op func(channel, group, perm string) error) {
		perm.MustSub(&commands.Command{
			Name:       name,
			Permission: PermManagePermissions,
			Syntax:     "<group> <permission>",
			Params:     []commands.Param{{Name: "group"}, {Name: "permission"}},
			Handler: func(ctx context.Context, inv *commands.Invocation) error {
				if err := op(inv.Channel, inv.String(0), inv.String(1)); err != nil {
					return userError(ctx, inv, err, known...)
				}
				return inv.Replyf(ctx, "%s %s %s", inv.String(1), verb, inv.String(0))
			},
		})
	}
	permOp("add", "granted to", engine.AddPermission)
	permOp("del", "revoked from", engine.RemovePermission)

	root.MustSub(&commands.Command{
		Name:       "reload",
		Permission: PermManagePermissions,
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := engine.Reload(inv.Channel); err != nil {
				return err
			}
			return inv.Reply(ctx, "permissions reloaded")
		},
	})

	root.MustSub(&commands.Command{
		Name:       "show",
		Permission: PermManagePermissions,
		Syntax:     "<user>",
		Params:     []commands.Param{{Name: "user", Type: commands.User}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			perms, err := engine.UserPermissions(inv.Channel, inv.String(0))
			if err != nil {
				return err
			}
			if len(perms) == 0 {
				return inv.Replyf(ctx, "%s has no permissions", inv.String(0))
			}
			return inv.Replyf(ctx, "%s: %v", inv.String(0), perms)
		},
	})
	return root
}

func (s *set) mod() *commands.Command {
	root := &commands.Command{
		Name:       "mod",
		Permission: PermManageMods,
		Help:       "switch mods per channel or reload them",
	}
	toggle := func(name string, enable bool) {
		root.MustSub(&commands.Command{
			Name:       name,
			Permission: PermManageMods,
			Syntax:     "<mod>",
			Params:     []commands.Param{{Name: "mod"}},
			Handler: func(ctx context.Context, inv *commands.Invocation) error {
				mod := inv.String(0)
				if !s.modKnown(mod) {
					return inv.Replyf(ctx, "unknown mod %s", mod)
				}
				var err error
				if enable {
					err = s.deps.Toggles.EnableMod(ctx, inv.Channel, mod)
				} else {
					err = s.deps.Toggles.DisableMod(ctx, inv.Channel, mod)
				}
				if err != nil {
					return err
				}
				return inv.Replyf(ctx, "mod %s %sd", mod, name)
			},
		})
	}
	toggle("enable", true)
	toggle("disable", false)

	root.MustSub(&commands.Command{
		Name:       "reload",
		Permission: PermManageMods,
		Syntax:     "<mod>",
		Params:     []commands.Param{{Name: "mod"}},
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			if err := s.deps.Mods.Reload(ctx, inv.String(0)); err != nil {
				return inv.Replyf(ctx, "reload of %s failed: %v", inv.String(0), err)
			}
			return inv.Replyf(ctx, "mod %s reloaded", inv.String(0))
		},
	})
	root.MustSub(&commands.Command{
		Name:       "list",
		Permission: PermManageMods,
		Handler: func(ctx context.Context, inv *commands.Invocation) error {
			return inv.Replyf(ctx, "mods: %v", s.deps.Mods.Names())
		},
	})
	return root
}

func (s *set) modKnown(name string) bool {
	for _, n := range s.deps.Mods.Names() {
		if n == name {
			return true
		}
	}
	return false
}
