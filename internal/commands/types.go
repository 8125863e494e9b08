// Package commands holds the command registry and the dispatcher that
// routes inbound chat messages to command actions.
package commands

import (
	"context"
	"strings"
	"time"

	"github.com/emberside/firebot/pkg/models"
)

// Action executes a command invocation. Actions may suspend on I/O; the
// dispatcher never cancels them, but a failing action can not take the
// dispatch loop down with it.
type Action func(ctx context.Context, inv *Invocation) error

// Command is a static registration record. Name and aliases must be
// globally unique across the registered set.
type Command struct {
	// Name is the primary invocation token, without prefix.
	Name string `yaml:"name"`

	// Aliases are alternative invocation tokens.
	Aliases []string `yaml:"aliases,omitempty"`

	// Description is a short help line.
	Description string `yaml:"description,omitempty"`

	// Usage shows the expected argument shape.
	Usage string `yaml:"usage,omitempty"`

	// Type groups commands by category (fun, util, admin, ...).
	Type string `yaml:"type,omitempty"`

	// AdminOnly restricts the command to the bot owner.
	AdminOnly bool `yaml:"admin_only,omitempty"`

	// RoomOwnerOnly restricts the command to the owner of the room it is
	// invoked in. Direct messages bypass this gate.
	RoomOwnerOnly bool `yaml:"room_owner_only,omitempty"`

	// GroupOnly forbids invocation from direct-message rooms.
	GroupOnly bool `yaml:"group_only,omitempty"`

	// Cooldown is the per-room-per-user minimum interval between
	// successful invocations. Zero disables the cooldown.
	Cooldown time.Duration `yaml:"-"`

	// Separator splits the argument text. Empty means whitespace.
	Separator string `yaml:"separator,omitempty"`

	// Run is the action callback.
	Run Action `yaml:"-"`
}

// Names returns the command's name plus all aliases, lowercased.
func (c *Command) Names() []string {
	out := make([]string, 0, len(c.Aliases)+1)
	out = append(out, strings.ToLower(c.Name))
	for _, a := range c.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Matches reports whether the token invokes this command.
func (c *Command) Matches(token string) bool {
	token = strings.ToLower(token)
	for _, n := range c.Names() {
		if n == token {
			return true
		}
	}
	return false
}

// SplitArgs splits argument text using the command's separator, trimming
// and discarding empty tokens.
func (c *Command) SplitArgs(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parts []string
	if c.Separator == "" || c.Separator == " " {
		parts = strings.Fields(text)
	} else {
		parts = strings.Split(text, c.Separator)
	}

	args := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			args = append(args, p)
		}
	}
	return args
}

// Replier sends chat messages back into rooms. The supervisor implements
// it.
type Replier interface {
	SendMessage(ctx context.Context, body, roomID string) error
}

// Invocation carries everything an action needs about one command call.
type Invocation struct {
	// Command is the matched registration record.
	Command *Command

	// Message is the triggering chat message.
	Message models.Message

	// Room is the snapshot of the room the message arrived in.
	Room models.Room

	// Args is the parsed argument list.
	Args []string

	replier Replier
}

// Reply sends a message body back to the invoking room, subject to the
// room's outbound throttle.
func (inv *Invocation) Reply(ctx context.Context, body string) error {
	return inv.replier.SendMessage(ctx, body, inv.Message.RoomID)
}
