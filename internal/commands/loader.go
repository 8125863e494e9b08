package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// packEntry is the on-disk shape of a custom command definition.
type packEntry struct {
	Command `yaml:",inline"`

	// Cooldown is a duration string ("5s", "1m"). Empty disables the
	// cooldown.
	Cooldown string `yaml:"cooldown,omitempty"`

	// Reply is the text sent back when the command runs. Supported
	// placeholders: {user}, {room}, {args}.
	Reply string `yaml:"reply"`
}

// Pack loads text-reply commands from a directory of YAML files. Each
// file holds a list of definitions; files load in lexical order so
// collisions resolve deterministically.
type Pack struct {
	Dir string
}

// Load parses every .yaml/.yml file in the pack directory.
func (p *Pack) Load() ([]*Command, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("read command pack dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var cmds []*Command
	for _, name := range names {
		loaded, err := p.loadFile(filepath.Join(p.Dir, name))
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, loaded...)
	}
	return cmds, nil
}

// LoadOne reloads a single command definition by name.
func (p *Pack) LoadOne(name string) (*Command, error) {
	cmds, err := p.Load()
	if err != nil {
		return nil, err
	}
	for _, c := range cmds {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no pack command named %q", name)
}

func (p *Pack) loadFile(path string) ([]*Command, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	var defs []packEntry
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	cmds := make([]*Command, 0, len(defs))
	for i := range defs {
		def := defs[i]
		if strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("%s: definition %d has no name", filepath.Base(path), i)
		}
		if strings.TrimSpace(def.Reply) == "" {
			return nil, fmt.Errorf("%s: command %q has no reply", filepath.Base(path), def.Name)
		}

		cmd := def.Command
		if cmd.Type == "" {
			cmd.Type = "custom"
		}
		if def.Cooldown != "" {
			d, err := time.ParseDuration(def.Cooldown)
			if err != nil {
				return nil, fmt.Errorf("%s: command %q has invalid cooldown %q: %w",
					filepath.Base(path), def.Name, def.Cooldown, err)
			}
			cmd.Cooldown = d
		}
		cmd.Run = textReply(def.Reply)
		cmds = append(cmds, &cmd)
	}
	return cmds, nil
}

// textReply builds an action that sends a static reply with placeholder
// substitution.
func textReply(text string) Action {
	return func(ctx context.Context, inv *Invocation) error {
		user := inv.Message.AuthorID
		if member, ok := inv.Room.Member(inv.Message.AuthorID); ok && member.Username != "" {
			user = member.Username
		}
		body := strings.NewReplacer(
			"{user}", user,
			"{room}", inv.Room.Name,
			"{args}", strings.Join(inv.Args, " "),
		).Replace(text)
		return inv.Reply(ctx, body)
	}
}

// MultiSource composes several sources into one. Earlier sources win on
// LoadOne lookups; Load concatenates in order, leaving collision checks
// to the registry.
type MultiSource []Source

func (m MultiSource) Load() ([]*Command, error) {
	var all []*Command
	for _, src := range m {
		cmds, err := src.Load()
		if err != nil {
			return nil, err
		}
		all = append(all, cmds...)
	}
	return all, nil
}

func (m MultiSource) LoadOne(name string) (*Command, error) {
	var lastErr error
	for _, src := range m {
		cmd, err := src.LoadOne(name)
		if err == nil {
			return cmd, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no command named %q", name)
	}
	return nil, lastErr
}
