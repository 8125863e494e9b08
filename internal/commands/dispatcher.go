package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emberside/firebot/internal/events"
	"github.com/emberside/firebot/internal/ratelimit"
	"github.com/emberside/firebot/pkg/models"
)

// Standard user-visible replies.
const (
	replyNotFound    = "Could not find this command."
	replyGroupOnly   = "This command can only be used in group rooms."
	replyAdminOnly   = "This command can only be used by the bot owner."
	replyOwnerOnly   = "This command can only be used by the room owner."
	replyCooldownFmt = "Hold on! You can use this command again in %ds."
)

// Gateway is the supervisor surface the dispatcher depends on.
type Gateway interface {
	Replier
	Room(roomID string) (models.Room, bool)
	BotUserID() string
}

// DispatcherConfig tunes message routing.
type DispatcherConfig struct {
	// DefaultPrefix marks a message as a command invocation when no
	// room-specific override exists.
	DefaultPrefix string
	// OwnerID is the bot owner's user id, the only id that passes
	// admin-only gates.
	OwnerID string
	// Blocked seeds the blocked-user set.
	Blocked []string
}

// Dispatcher consumes inbound message events, resolves the target
// command, applies permission and rate checks, and invokes the action.
// Dispatch stays disabled until the initial personal-channel join
// completes, so stale or replayed events during startup can never trigger
// a command.
type Dispatcher struct {
	cfg       DispatcherConfig
	registry  *Registry
	cooldowns *ratelimit.Cooldowns
	gw        Gateway
	logger    *slog.Logger

	ready atomic.Bool

	mu       sync.RWMutex
	prefixes map[string]string
	blocked  map[string]bool

	// onPrefixChange, when set, observes prefix overrides so they can be
	// persisted.
	onPrefixChange func(roomID, prefix string)

	metrics DispatchMetrics
}

// DispatchMetrics is the observability hook surface; the zero value is a
// no-op.
type DispatchMetrics struct {
	Invocations  func(command string)
	Errors       func(command string)
	CooldownHits func(command string)
}

// NewDispatcher wires a dispatcher over a registry and gateway.
func NewDispatcher(cfg DispatcherConfig, registry *Registry, gw Gateway, logger *slog.Logger) *Dispatcher {
	if cfg.DefaultPrefix == "" {
		cfg.DefaultPrefix = "!"
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		cooldowns: ratelimit.NewCooldowns(),
		gw:        gw,
		logger:    logger.With("component", "dispatcher"),
		prefixes:  make(map[string]string),
		blocked:   make(map[string]bool),
	}
	for _, id := range cfg.Blocked {
		d.blocked[id] = true
	}
	return d
}

// SetMetrics installs observability callbacks.
func (d *Dispatcher) SetMetrics(m DispatchMetrics) { d.metrics = m }

// Bind subscribes the dispatcher to the event bus. Bindings are named so
// rebinding on reload is a no-op.
func (d *Dispatcher) Bind(bus *events.Bus) {
	bus.Subscribe(events.KindChatReady, "dispatcher-ready", func(events.Event) {
		d.SetReady(true)
	})
	bus.Subscribe(events.KindMessage, "dispatcher", func(ev events.Event) {
		msg := ev.(events.Message)
		d.HandleMessage(context.Background(), msg.Message)
	})
}

// SetReady flips the dispatch gate.
func (d *Dispatcher) SetReady(ready bool) {
	if d.ready.Swap(ready) != ready {
		d.logger.Info("dispatch gate changed", "ready", ready)
	}
}

// Ready reports whether dispatch is enabled.
func (d *Dispatcher) Ready() bool { return d.ready.Load() }

// OnPrefixChange installs an observer for prefix overrides.
func (d *Dispatcher) OnPrefixChange(fn func(roomID, prefix string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPrefixChange = fn
}

// SetRoomPrefix installs a room-specific prefix override. An empty prefix
// removes the override.
func (d *Dispatcher) SetRoomPrefix(roomID, prefix string) {
	d.mu.Lock()
	if prefix == "" {
		delete(d.prefixes, roomID)
	} else {
		d.prefixes[roomID] = prefix
	}
	fn := d.onPrefixChange
	d.mu.Unlock()
	if fn != nil {
		fn(roomID, prefix)
	}
}

// RestorePrefixes seeds prefix overrides without notifying the observer,
// for boot-time loads from storage.
func (d *Dispatcher) RestorePrefixes(prefixes map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for roomID, prefix := range prefixes {
		if prefix != "" {
			d.prefixes[roomID] = prefix
		}
	}
}

// Prefix returns the effective prefix for a room.
func (d *Dispatcher) Prefix(roomID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.prefixes[roomID]; ok {
		return p
	}
	return d.cfg.DefaultPrefix
}

// Block adds a user to the blocked set.
func (d *Dispatcher) Block(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked[userID] = true
}

// Unblock removes a user from the blocked set.
func (d *Dispatcher) Unblock(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.blocked, userID)
}

func (d *Dispatcher) isBlocked(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blocked[userID]
}

// HandleMessage routes one inbound message. Every early return is
// silent except the unresolved-command, denial and first-cooldown
// replies.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg models.Message) {
	if !d.ready.Load() {
		return
	}
	if msg.AuthorID == "" || msg.AuthorID == d.gw.BotUserID() {
		return
	}
	if d.isBlocked(msg.AuthorID) {
		return
	}

	prefix := d.Prefix(msg.RoomID)
	if !strings.HasPrefix(msg.Body, prefix) {
		return
	}

	rest := strings.TrimSpace(msg.Body[len(prefix):])
	if rest == "" {
		return
	}
	token := rest
	remainder := ""
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		token = rest[:i]
		remainder = rest[i+1:]
	}

	cmd, ok := d.registry.FindByNameOrAlias(token)
	if !ok {
		d.reply(ctx, msg.RoomID, replyNotFound)
		return
	}

	room, _ := d.gw.Room(msg.RoomID)

	// Permission gates, in order; the first failure replies and stops.
	if cmd.GroupOnly && room.IsDirect() {
		d.reply(ctx, msg.RoomID, replyGroupOnly)
		return
	}
	if cmd.AdminOnly && msg.AuthorID != d.cfg.OwnerID {
		d.reply(ctx, msg.RoomID, replyAdminOnly)
		return
	}
	if cmd.RoomOwnerOnly && !room.IsDirect() && msg.AuthorID != room.OwnerID {
		d.reply(ctx, msg.RoomID, replyOwnerOnly)
		return
	}

	if decision := d.cooldowns.Check(msg.RoomID, msg.AuthorID, cmd.Name, cmd.Cooldown); decision.Blocked {
		if d.metrics.CooldownHits != nil {
			d.metrics.CooldownHits(cmd.Name)
		}
		if decision.Notify {
			secs := int(math.Ceil(decision.Remaining.Seconds()))
			d.reply(ctx, msg.RoomID, fmt.Sprintf(replyCooldownFmt, secs))
		}
		return
	}

	inv := &Invocation{
		Command: cmd,
		Message: msg,
		Room:    room,
		Args:    cmd.SplitArgs(remainder),
		replier: d.gw,
	}

	if d.metrics.Invocations != nil {
		d.metrics.Invocations(cmd.Name)
	}

	// Actions run on their own goroutine so one command awaiting I/O
	// never stalls dispatch for other rooms.
	go d.invoke(ctx, cmd, inv)
}

// invoke runs the action, containing both errors and panics: one
// misbehaving command must not take down message processing for other
// rooms.
func (d *Dispatcher) invoke(ctx context.Context, cmd *Command, inv *Invocation) {
	defer func() {
		if r := recover(); r != nil {
			if d.metrics.Errors != nil {
				d.metrics.Errors(cmd.Name)
			}
			d.logger.Error("command panicked", "command", cmd.Name, "panic", r)
		}
	}()

	if err := cmd.Run(ctx, inv); err != nil {
		if d.metrics.Errors != nil {
			d.metrics.Errors(cmd.Name)
		}
		d.logger.Error("command failed",
			"command", cmd.Name,
			"room_id", inv.Message.RoomID,
			"user_id", inv.Message.AuthorID,
			"error", err)
	}
}

func (d *Dispatcher) reply(ctx context.Context, roomID, body string) {
	if err := d.gw.SendMessage(ctx, body, roomID); err != nil {
		d.logger.Warn("reply failed", "room_id", roomID, "error", err)
	}
}
