package commands

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Source loads command definitions, either the full set or a single named
// command. The builtin pack and the YAML command-pack loader both
// implement it.
type Source interface {
	Load() ([]*Command, error)
	LoadOne(name string) (*Command, error)
}

// Registry holds the loaded commands in registration order. Alias
// uniqueness is a global invariant: no token (name or alias) may identify
// two commands, checked pairwise across the full set on every
// registration because aliases can change on reload.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	commands []*Command
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "commands")}
}

// Register adds a command. A name or alias that collides with any
// already registered command rejects the registration and leaves the
// registry unchanged. These are programmer errors in command definitions,
// fatal at load time rather than a source of ambiguous routing.
func (r *Registry) Register(cmd *Command) error {
	if err := validate(cmd); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkCollisions(cmd, -1); err != nil {
		return err
	}
	r.commands = append(r.commands, cmd)
	r.logger.Debug("registered command", "name", cmd.Name, "aliases", cmd.Aliases, "type", cmd.Type)
	return nil
}

// FindByNameOrAlias resolves an invocation token. Ties are impossible by
// the uniqueness invariant, but lookup still scans in registration order
// so the first registered command wins if the invariant is ever relaxed.
func (r *Registry) FindByNameOrAlias(token string) (*Command, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.commands {
		if c.Matches(token) {
			return c, true
		}
	}
	return nil, false
}

// FindByType returns all commands in the given category, in registration
// order.
func (r *Registry) FindByType(t string) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Command
	for _, c := range r.commands {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// All returns the registered commands in registration order.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Command(nil), r.commands...)
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// ReloadAll clears the registry and re-registers everything the source
// provides, in the source's order.
func (r *Registry) ReloadAll(src Source) error {
	cmds, err := src.Load()
	if err != nil {
		return fmt.Errorf("load commands: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.commands
	r.commands = nil
	for _, cmd := range cmds {
		if err := validate(cmd); err != nil {
			r.commands = old
			return err
		}
		if err := r.checkCollisions(cmd, -1); err != nil {
			r.commands = old
			return err
		}
		r.commands = append(r.commands, cmd)
	}
	r.logger.Info("registry reloaded", "commands", len(r.commands))
	return nil
}

// ReloadOne re-loads a single command by name and replaces it in place,
// preserving its slot so alias-collision ordering is stable across
// reloads.
func (r *Registry) ReloadOne(name string, src Source) error {
	cmd, err := src.LoadOne(name)
	if err != nil {
		return fmt.Errorf("load command %q: %w", name, err)
	}
	if err := validate(cmd); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	slot := -1
	for i, c := range r.commands {
		if strings.EqualFold(c.Name, name) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("command %q is not registered", name)
	}
	if err := r.checkCollisions(cmd, slot); err != nil {
		return err
	}
	r.commands[slot] = cmd
	r.logger.Info("command reloaded", "name", cmd.Name)
	return nil
}

// Remove unregisters a command by name. It reports whether a command was
// removed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.commands {
		if strings.EqualFold(c.Name, name) {
			r.commands = append(r.commands[:i], r.commands[i+1:]...)
			return true
		}
	}
	return false
}

// checkCollisions verifies the candidate's tokens against every
// registered command, skipping the slot being replaced. Callers hold the
// lock.
func (r *Registry) checkCollisions(cmd *Command, skipSlot int) error {
	for i, existing := range r.commands {
		if i == skipSlot {
			continue
		}
		for _, token := range cmd.Names() {
			if existing.Matches(token) {
				return fmt.Errorf("command %q: token %q collides with command %q", cmd.Name, token, existing.Name)
			}
		}
	}
	return nil
}

func validate(cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command is nil")
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("command name is required")
	}
	if cmd.Run == nil {
		return fmt.Errorf("command %q: action is required", cmd.Name)
	}
	seen := make(map[string]bool)
	for _, token := range cmd.Names() {
		if seen[token] {
			return fmt.Errorf("command %q: duplicate token %q", cmd.Name, token)
		}
		seen[token] = true
	}
	return nil
}
