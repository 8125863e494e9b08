package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emberside/firebot/pkg/models"
)

// ScoreStore is the narrow persistence seam the score commands consume.
type ScoreStore interface {
	GetScore(ctx context.Context, roomID, userID string) (int64, error)
	AddScore(ctx context.Context, roomID, userID string, delta int64) (int64, error)
	Top(ctx context.Context, roomID string, limit int) ([]models.Score, error)
}

// Builtins is the built-in command pack. It implements Source so the
// registry can load and reload it like any other pack.
type Builtins struct {
	// Dispatcher is consulted for prefixes and mutated by the prefix
	// command.
	Dispatcher *Dispatcher

	// Registry backs the help listing.
	Registry *Registry

	// Scores is optional; score commands are omitted when nil.
	Scores ScoreStore

	// ReloadAll and ReloadOne are wired by the bot assembly so the
	// reload command can reach the full command source.
	ReloadAll func() error
	ReloadOne func(name string) error

	// StartedAt anchors the uptime command.
	StartedAt time.Time

	// Version is reported by the uptime command.
	Version string
}

// Load returns the built-in command set.
func (b *Builtins) Load() ([]*Command, error) {
	cmds := []*Command{
		{
			Name:        "help",
			Aliases:     []string{"commands"},
			Description: "List available commands.",
			Type:        "util",
			Cooldown:    5 * time.Second,
			Run:         b.runHelp,
		},
		{
			Name:        "ping",
			Description: "Check that the bot is alive.",
			Type:        "util",
			Cooldown:    3 * time.Second,
			Run: func(ctx context.Context, inv *Invocation) error {
				return inv.Reply(ctx, "Pong!")
			},
		},
		{
			Name:        "uptime",
			Description: "Show how long the bot has been running.",
			Type:        "util",
			Cooldown:    5 * time.Second,
			Run:         b.runUptime,
		},
		{
			Name:          "prefix",
			Description:   "Set or reset this room's command prefix.",
			Usage:         "prefix <new prefix|reset>",
			Type:          "admin",
			RoomOwnerOnly: true,
			GroupOnly:     true,
			Run:           b.runPrefix,
		},
		{
			Name:        "reload",
			Description: "Reload command definitions.",
			Usage:       "reload <all|command name>",
			Type:        "admin",
			AdminOnly:   true,
			Run:         b.runReload,
		},
	}

	if b.Scores != nil {
		cmds = append(cmds,
			&Command{
				Name:        "score",
				Description: "Show your score in this room.",
				Type:        "fun",
				GroupOnly:   true,
				Cooldown:    5 * time.Second,
				Run:         b.runScore,
			},
			&Command{
				Name:        "top",
				Aliases:     []string{"leaderboard"},
				Description: "Show this room's top scores.",
				Type:        "fun",
				GroupOnly:   true,
				Cooldown:    10 * time.Second,
				Run:         b.runTop,
			},
		)
	}
	return cmds, nil
}

// LoadOne loads a single builtin by name.
func (b *Builtins) LoadOne(name string) (*Command, error) {
	cmds, err := b.Load()
	if err != nil {
		return nil, err
	}
	for _, c := range cmds {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no builtin command named %q", name)
}

func (b *Builtins) runHelp(ctx context.Context, inv *Invocation) error {
	prefix := "!"
	if b.Dispatcher != nil {
		prefix = b.Dispatcher.Prefix(inv.Message.RoomID)
	}

	byType := make(map[string][]*Command)
	for _, c := range b.Registry.All() {
		byType[c.Type] = append(byType[c.Type], c)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, t := range types {
		sb.WriteString(strings.ToUpper(t) + "\n")
		for _, c := range byType[t] {
			sb.WriteString(fmt.Sprintf("  %s%s - %s\n", prefix, c.Name, c.Description))
		}
	}
	return inv.Reply(ctx, sb.String())
}

func (b *Builtins) runUptime(ctx context.Context, inv *Invocation) error {
	up := time.Since(b.StartedAt).Round(time.Second)
	version := b.Version
	if version == "" {
		version = "dev"
	}
	return inv.Reply(ctx, fmt.Sprintf("firebot %s, up %s.", version, up))
}

func (b *Builtins) runPrefix(ctx context.Context, inv *Invocation) error {
	if len(inv.Args) == 0 {
		return inv.Reply(ctx, "Usage: prefix <new prefix|reset>")
	}
	if b.Dispatcher == nil {
		return nil
	}

	arg := inv.Args[0]
	if strings.EqualFold(arg, "reset") {
		b.Dispatcher.SetRoomPrefix(inv.Message.RoomID, "")
		return inv.Reply(ctx, "Prefix reset to the default.")
	}
	if len(arg) > 3 {
		return inv.Reply(ctx, "Prefixes can be at most 3 characters.")
	}
	b.Dispatcher.SetRoomPrefix(inv.Message.RoomID, arg)
	return inv.Reply(ctx, fmt.Sprintf("Prefix for this room is now %q.", arg))
}

func (b *Builtins) runReload(ctx context.Context, inv *Invocation) error {
	target := "all"
	if len(inv.Args) > 0 {
		target = strings.ToLower(inv.Args[0])
	}

	var err error
	if target == "all" {
		if b.ReloadAll == nil {
			return nil
		}
		err = b.ReloadAll()
	} else {
		if b.ReloadOne == nil {
			return nil
		}
		err = b.ReloadOne(target)
	}
	if err != nil {
		return fmt.Errorf("reload %s: %w", target, err)
	}
	return inv.Reply(ctx, fmt.Sprintf("Reloaded %s.", target))
}

func (b *Builtins) runScore(ctx context.Context, inv *Invocation) error {
	score, err := b.Scores.GetScore(ctx, inv.Message.RoomID, inv.Message.AuthorID)
	if err != nil {
		return fmt.Errorf("get score: %w", err)
	}
	return inv.Reply(ctx, fmt.Sprintf("Your score in this room: %d.", score))
}

func (b *Builtins) runTop(ctx context.Context, inv *Invocation) error {
	top, err := b.Scores.Top(ctx, inv.Message.RoomID, 5)
	if err != nil {
		return fmt.Errorf("load leaderboard: %w", err)
	}
	if len(top) == 0 {
		return inv.Reply(ctx, "No scores in this room yet.")
	}

	var sb strings.Builder
	sb.WriteString("Top scores:\n")
	for i, s := range top {
		name := s.UserID
		if member, ok := inv.Room.Member(s.UserID); ok && member.Username != "" {
			name = member.Username
		}
		sb.WriteString(fmt.Sprintf("%d. %s - %d\n", i+1, name, s.Value))
	}
	return inv.Reply(ctx, sb.String())
}
