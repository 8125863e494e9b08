// Package supervisor orchestrates the socket connection lifecycle for one
// service instance and is the façade the rest of the bot talks through. It
// owns the active-room and channel tables, the outbound throttle, and the
// rejoin logic that restores room membership after a reconnect.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberside/firebot/internal/channel"
	"github.com/emberside/firebot/internal/events"
	"github.com/emberside/firebot/internal/ratelimit"
	"github.com/emberside/firebot/internal/socket"
	"github.com/emberside/firebot/pkg/models"
)

// Kind selects which side of the service a supervisor drives.
type Kind string

const (
	// KindChat drives the chat host: rooms plus the personal channel.
	KindChat Kind = "chat"
	// KindGrid drives the grid host: the notification stream.
	KindGrid Kind = "grid"
)

// Config tunes a supervisor instance.
type Config struct {
	Kind Kind
	// BotUserID is the account the personal and notification topics are
	// scoped to.
	BotUserID string
	// Greeting, when non-empty, is sent to a group room right after the
	// bot joins it.
	Greeting string
	Socket    socket.Config
	RateLimit ratelimit.Config
}

// Supervisor aggregates room state for one connection and republishes
// inbound events to the rest of the bot through the event bus.
//
// The activeRooms and channels tables are mutated only by the supervisor
// itself: a room id present in one is present in the other, except during
// the brief join/leave transition.
type Supervisor struct {
	cfg     Config
	conn    *socket.Conn
	bus     *events.Bus
	limiter *ratelimit.Outbound
	logger  *slog.Logger

	mu          sync.Mutex
	activeRooms map[string]models.Room
	channels    map[string]*channel.RoomSession
	user        *channel.UserSession
	notif       *channel.NotificationSession
	botUser     models.User
	// wasConnected distinguishes the first connect from reconnects.
	wasConnected bool

	readyOnce sync.Once
	ready     chan struct{}

	metrics Metrics
}

// Metrics is the observability hook surface; the zero value is a no-op.
type Metrics struct {
	MessageSent      func()
	MessageThrottled func()
	RoomsActive      func(n int)
	Reconnects       func()
	Connected        func(up bool)
}

func (m Metrics) sent() {
	if m.MessageSent != nil {
		m.MessageSent()
	}
}

func (m Metrics) throttled() {
	if m.MessageThrottled != nil {
		m.MessageThrottled()
	}
}

func (m Metrics) rooms(n int) {
	if m.RoomsActive != nil {
		m.RoomsActive(n)
	}
}

func (m Metrics) reconnect() {
	if m.Reconnects != nil {
		m.Reconnects()
	}
}

func (m Metrics) connected(up bool) {
	if m.Connected != nil {
		m.Connected(up)
	}
}

// New wires a supervisor over a fresh socket connection. The dialer is
// swappable for tests; nil selects the production websocket dialer.
func New(authGateway socket.Authenticator, dialer socket.Dialer, cfg Config, bus *events.Bus, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:         cfg,
		bus:         bus,
		limiter:     ratelimit.NewOutbound(cfg.RateLimit),
		logger:      logger.With("component", "supervisor", "kind", string(cfg.Kind)),
		activeRooms: make(map[string]models.Room),
		channels:    make(map[string]*channel.RoomSession),
		ready:       make(chan struct{}),
	}
	s.conn = socket.New(authGateway, dialer, cfg.Socket, logger)
	s.conn.SetOnDisconnect(s.onDisconnect)
	s.conn.SetOnConnected(s.onConnected)
	s.bindBusHandlers()
	return s
}

// SetMetrics installs observability callbacks.
func (s *Supervisor) SetMetrics(m Metrics) { s.metrics = m }

// Start connects and blocks until the initial connect completes. Channel
// sessions are established asynchronously; use Ready to await the initial
// personal-channel join.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

// Stop permanently shuts the supervisor down.
func (s *Supervisor) Stop() {
	s.conn.Close()
}

// Ready is closed once the initial personal-channel join has completed.
// For a grid supervisor it closes after the notification join instead.
func (s *Supervisor) Ready() <-chan struct{} { return s.ready }

// State exposes the connection lifecycle state.
func (s *Supervisor) State() socket.State { return s.conn.State() }

// BotUserID returns the bot's own user id, preferring the live account
// snapshot over the configured fallback.
func (s *Supervisor) BotUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.botUser.ID != "" {
		return s.botUser.ID
	}
	return s.cfg.BotUserID
}

// Room returns a copy of the cached snapshot for an active room. The
// copy owns its Members slice, so callers on other goroutines never see
// membership edits made after the call.
func (s *Supervisor) Room(roomID string) (models.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.activeRooms[roomID]
	return room.Clone(), ok
}

// ActiveRooms returns the ids of all currently active rooms.
func (s *Supervisor) ActiveRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.activeRooms))
	for id := range s.activeRooms {
		ids = append(ids, id)
	}
	return ids
}

// Friend returns the cached friend entry for a user id, when the personal
// channel is up.
func (s *Supervisor) Friend(userID string) (models.Friend, bool) {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return models.Friend{}, false
	}
	return user.Friend(userID)
}

// JoinRoom joins a room channel and stores the returned snapshot in the
// active-room table. Joining a room that is already active and joined is a
// no-op that performs no network round-trip. The returned snapshot lets
// callers act only after the join has completed.
func (s *Supervisor) JoinRoom(ctx context.Context, roomID string) (models.Room, error) {
	s.mu.Lock()
	if ch, ok := s.channels[roomID]; ok && ch.Joined() {
		room := s.activeRooms[roomID]
		s.mu.Unlock()
		return room, nil
	}
	s.mu.Unlock()

	rs := channel.NewRoom(s.conn, roomID, s.bus, s.logger)
	room, err := rs.Join(ctx)
	if err != nil {
		return models.Room{}, err
	}

	s.mu.Lock()
	// The join snapshot's Members backing array is shared with the room
	// session's own cache, which edits it in place on membership events.
	s.activeRooms[roomID] = room.Clone()
	s.channels[roomID] = rs
	n := len(s.activeRooms)
	s.mu.Unlock()
	s.metrics.rooms(n)

	s.logger.Info("joined room", "room_id", roomID, "type", string(room.Type), "members", len(room.Members))
	return room, nil
}

// LeaveRoom leaves the room channel and drops the cached snapshot. It
// never fails: leaving a room that is not active is a no-op.
func (s *Supervisor) LeaveRoom(ctx context.Context, roomID string) {
	s.mu.Lock()
	ch := s.channels[roomID]
	delete(s.channels, roomID)
	delete(s.activeRooms, roomID)
	n := len(s.activeRooms)
	s.mu.Unlock()
	s.metrics.rooms(n)

	if ch == nil {
		return
	}
	ch.Leave(ctx)
	s.logger.Info("left room", "room_id", roomID)
}

// SendMessage pushes a message body to a room, consulting the outbound
// throttle first. A throttled send is dropped silently; dropping beats
// buffering as the backpressure policy, so sustained abuse cannot grow an
// unbounded queue.
func (s *Supervisor) SendMessage(ctx context.Context, body, roomID string) error {
	if s.limiter.Throttled(roomID) {
		s.metrics.throttled()
		s.logger.Debug("outbound message throttled", "room_id", roomID)
		return nil
	}

	payload := models.Message{
		ID:        uuid.NewString(),
		AuthorID:  s.BotUserID(),
		RoomID:    roomID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	f, err := socket.NewFrame(channel.RoomTopic(roomID), "message", payload)
	if err != nil {
		return err
	}
	if err := s.conn.Send(f); err != nil {
		return err
	}
	s.metrics.sent()
	return nil
}

// Restart tears down and rebuilds the whole supervisor: transport, channel
// sessions and every cache. Stale membership never survives.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.logger.Info("supervisor restart requested")
	s.conn.Disconnect()
	return s.conn.Connect(ctx)
}

// onConnected runs after every successful connect, manual or automatic,
// so the reconnect counter and the connected gauge cover the socket
// layer's own recovery path too.
func (s *Supervisor) onConnected(ctx context.Context) {
	s.mu.Lock()
	again := s.wasConnected
	s.wasConnected = true
	s.mu.Unlock()

	if again {
		s.metrics.reconnect()
	}
	s.metrics.connected(true)
	s.establishSessions(ctx)
}

// onDisconnect runs after every socket teardown.
func (s *Supervisor) onDisconnect() {
	s.metrics.connected(false)
	s.resetCaches()
}

func (s *Supervisor) resetCaches() {
	s.mu.Lock()
	s.activeRooms = make(map[string]models.Room)
	s.channels = make(map[string]*channel.RoomSession)
	s.user = nil
	s.notif = nil
	s.mu.Unlock()
	s.limiter.Reset()
	s.metrics.rooms(0)
}

// establishSessions runs after every successful connect and re-creates
// the per-connection channel sessions. For the chat side that is the
// personal channel, whose join emits ChatReady and drives the group
// rejoin; for the grid side it is the notification stream.
func (s *Supervisor) establishSessions(ctx context.Context) {
	switch s.cfg.Kind {
	case KindGrid:
		notif := channel.NewNotifications(s.conn, s.cfg.BotUserID, s.bus, s.logger)
		if err := notif.Join(ctx); err != nil {
			s.logger.Error("notification channel join failed", "error", err)
			return
		}
		s.mu.Lock()
		s.notif = notif
		s.mu.Unlock()
		s.signalReady()

	default:
		user := channel.NewUser(s.conn, s.cfg.BotUserID, s.bus, s.logger)
		s.mu.Lock()
		s.user = user
		s.mu.Unlock()
		if _, err := user.Join(ctx); err != nil {
			s.logger.Error("personal channel join failed", "error", err)
		}
	}
}

func (s *Supervisor) signalReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// bindBusHandlers installs the supervisor's own event subscriptions. All
// bindings are named so rebuilding the supervisor can never double-bind.
func (s *Supervisor) bindBusHandlers() {
	if s.cfg.Kind != KindChat {
		return
	}
	name := "supervisor-" + string(s.cfg.Kind)

	s.bus.Subscribe(events.KindChatReady, name, func(ev events.Event) {
		ready := ev.(events.ChatReady)
		s.mu.Lock()
		s.botUser = ready.User
		s.mu.Unlock()
		s.rejoinGroups(ready.Groups)
		s.signalReady()
	})

	s.bus.Subscribe(events.KindGroupAdd, name, func(ev events.Event) {
		added := ev.(events.GroupAdd)
		go s.welcomeRoom(added.RoomID)
	})

	s.bus.Subscribe(events.KindGroupLeave, name, func(ev events.Event) {
		left := ev.(events.GroupLeave)
		s.LeaveRoom(context.Background(), left.RoomID)
	})

	s.bus.Subscribe(events.KindFriendRemove, name, func(ev events.Event) {
		removed := ev.(events.FriendRemove)
		if removed.RoomID != "" {
			s.LeaveRoom(context.Background(), removed.RoomID)
		}
	})

	s.bus.Subscribe(events.KindMemberAdd, name, func(ev events.Event) {
		add := ev.(events.MemberAdd)
		s.mu.Lock()
		if room, ok := s.activeRooms[add.RoomID]; ok {
			room.AddMembers(add.Members)
			s.activeRooms[add.RoomID] = room
		}
		s.mu.Unlock()
	})

	s.bus.Subscribe(events.KindMemberLeave, name, func(ev events.Event) {
		leave := ev.(events.MemberLeave)
		s.mu.Lock()
		if room, ok := s.activeRooms[leave.RoomID]; ok {
			room.RemoveMember(leave.Member.ID)
			s.activeRooms[leave.RoomID] = room
		}
		s.mu.Unlock()
	})

	s.bus.Subscribe(events.KindOwnerSync, name, func(ev events.Event) {
		sync := ev.(events.OwnerSync)
		s.mu.Lock()
		if room, ok := s.activeRooms[sync.RoomID]; ok {
			room.OwnerID = sync.OwnerID
			s.activeRooms[sync.RoomID] = room
		}
		s.mu.Unlock()
	})
}

// rejoinGroups restores membership from the group-id list carried by the
// account snapshot. After a reconnect the active-room table is empty, so
// this list is the source of truth for which rooms to re-enter.
func (s *Supervisor) rejoinGroups(groups []string) {
	ctx := context.Background()
	for _, roomID := range groups {
		if _, err := s.JoinRoom(ctx, roomID); err != nil {
			s.logger.Warn("group rejoin failed", "room_id", roomID, "error", err)
		}
	}
}

// welcomeRoom joins a freshly added group and greets it once the join
// round-trip has completed.
func (s *Supervisor) welcomeRoom(roomID string) {
	ctx := context.Background()
	if _, err := s.JoinRoom(ctx, roomID); err != nil {
		s.logger.Warn("join after group_add failed", "room_id", roomID, "error", err)
		return
	}
	if s.cfg.Greeting != "" {
		if err := s.SendMessage(ctx, s.cfg.Greeting, roomID); err != nil {
			s.logger.Warn("greeting failed", "room_id", roomID, "error", err)
		}
	}
}
