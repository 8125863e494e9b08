// Package channel implements the topic-specific session variants: room
// channels, the bot's personal user channel, and the notification channel.
// Each variant subscribes to exactly one topic, keeps its local cache in
// sync, and republishes upstream events as bot-level events.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/emberside/firebot/internal/events"
	"github.com/emberside/firebot/internal/socket"
	"github.com/emberside/firebot/pkg/models"
)

// RoomTopic returns the transport topic for a room id.
func RoomTopic(roomID string) string { return "room:" + roomID }

// RoomSession subscribes to a single room topic and caches the Room
// snapshot returned by the join.
type RoomSession struct {
	sess   *socket.Session
	bus    *events.Bus
	logger *slog.Logger
	roomID string

	mu   sync.Mutex
	room models.Room
}

// NewRoom creates a room session and binds its event handlers. The
// session is not joined yet; callers must Join before the cache is
// populated.
func NewRoom(conn *socket.Conn, roomID string, bus *events.Bus, logger *slog.Logger) *RoomSession {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RoomSession{
		sess:   conn.Subscribe(RoomTopic(roomID)),
		bus:    bus,
		logger: logger.With("component", "room", "room_id", roomID),
		roomID: roomID,
	}
	r.sess.On("message", r.onMessage)
	r.sess.On("message_update", r.onMessageUpdate)
	r.sess.On("user_updated", r.onUserUpdated)
	r.sess.On("member_add", r.onMemberAdd)
	r.sess.On("member_leave", r.onMemberLeave)
	r.sess.On("owner_sync", r.onOwnerSync)
	return r
}

// Join performs the join round-trip and caches the returned room
// snapshot. Join failures surface to the caller; the underlying session
// retains no half-joined state.
func (r *RoomSession) Join(ctx context.Context) (models.Room, error) {
	snapshot, err := r.sess.Join(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}

	var room models.Room
	if err := json.Unmarshal(snapshot, &room); err != nil {
		return models.Room{}, socket.NewError(socket.ErrCodeJoin, "decode room snapshot", err)
	}
	if room.ID == "" {
		room.ID = r.roomID
	}

	r.mu.Lock()
	r.room = room
	r.mu.Unlock()
	return room, nil
}

// Leave tears down the subscription.
func (r *RoomSession) Leave(ctx context.Context) {
	r.sess.Leave(ctx)
}

// RoomID returns the room id this session is bound to.
func (r *RoomSession) RoomID() string { return r.roomID }

// Room returns a copy of the cached room snapshot.
func (r *RoomSession) Room() models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.room.Clone()
}

// Joined reports whether the join round-trip completed.
func (r *RoomSession) Joined() bool {
	return r.sess.Status() == socket.StatusJoined
}

func (r *RoomSession) onMessage(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("bad message payload", "error", err)
		return
	}
	if msg.RoomID == "" {
		msg.RoomID = r.roomID
	}
	r.bus.Publish(events.Message{Message: msg})
}

func (r *RoomSession) onMessageUpdate(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("bad message_update payload", "error", err)
		return
	}
	if msg.RoomID == "" {
		msg.RoomID = r.roomID
	}
	r.bus.Publish(events.MessageUpdate{Message: msg})
}

func (r *RoomSession) onUserUpdated(payload json.RawMessage) {
	var user models.User
	if err := json.Unmarshal(payload, &user); err != nil {
		r.logger.Warn("bad user_updated payload", "error", err)
		return
	}

	r.mu.Lock()
	for i, m := range r.room.Members {
		if m.ID == user.ID {
			// Replacement, not mutation: the fresher snapshot wins.
			r.room.Members[i] = user
			break
		}
	}
	r.mu.Unlock()

	r.bus.Publish(events.UserUpdated{RoomID: r.roomID, User: user})
}

func (r *RoomSession) onMemberAdd(payload json.RawMessage) {
	var body struct {
		Members []models.User `json:"members"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		r.logger.Warn("bad member_add payload", "error", err)
		return
	}

	added := make([]models.User, 0, len(body.Members))
	for _, m := range body.Members {
		if m.ID != "" {
			added = append(added, m)
		}
	}
	if len(added) == 0 {
		return
	}

	r.mu.Lock()
	r.room.AddMembers(added)
	r.mu.Unlock()

	r.bus.Publish(events.MemberAdd{RoomID: r.roomID, Members: added})
}

// onMemberLeave removes the member from the cached room and republishes
// with the removed snapshot. An unknown member is a no-op on the cache but
// the event is still republished; it must never throw.
func (r *RoomSession) onMemberLeave(payload json.RawMessage) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		r.logger.Warn("bad member_leave payload", "error", err)
		return
	}

	r.mu.Lock()
	member, _ := r.room.RemoveMember(body.UserID)
	r.mu.Unlock()
	if member.ID == "" {
		member.ID = body.UserID
	}

	r.bus.Publish(events.MemberLeave{RoomID: r.roomID, Member: member})
}

func (r *RoomSession) onOwnerSync(payload json.RawMessage) {
	var body struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		r.logger.Warn("bad owner_sync payload", "error", err)
		return
	}

	r.mu.Lock()
	r.room.OwnerID = body.OwnerID
	r.mu.Unlock()

	r.bus.Publish(events.OwnerSync{RoomID: r.roomID, OwnerID: body.OwnerID})
}
