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

// UserTopic returns the transport topic for a user's personal channel.
func UserTopic(userID string) string { return "user:" + userID }

// Snapshot is the account state returned by the personal-channel join.
type Snapshot struct {
	User    models.User     `json:"user"`
	Friends []models.Friend `json:"friends"`
	Groups  []string        `json:"groups"`
}

// UserSession subscribes to the bot owner's personal topic. It is joined
// once per connection lifetime; the join reply seeds the current-user
// snapshot, the friends list and the group-room-id list, after which a
// single ChatReady event is emitted.
type UserSession struct {
	sess   *socket.Session
	bus    *events.Bus
	logger *slog.Logger
	userID string

	mu      sync.Mutex
	user    models.User
	friends map[string]models.Friend
	groups  []string
}

// NewUser creates the personal-channel session and binds its handlers.
func NewUser(conn *socket.Conn, userID string, bus *events.Bus, logger *slog.Logger) *UserSession {
	if logger == nil {
		logger = slog.Default()
	}
	u := &UserSession{
		sess:    conn.Subscribe(UserTopic(userID)),
		bus:     bus,
		logger:  logger.With("component", "user-channel"),
		userID:  userID,
		friends: make(map[string]models.Friend),
	}
	u.sess.On("friend_add", u.onFriendAdd)
	u.sess.On("friend_remove", u.onFriendRemove)
	u.sess.On("friend_updated", u.onFriendUpdated)
	u.sess.On("you_updated", u.onYouUpdated)
	u.sess.On("group_add", u.onGroupAdd)
	u.sess.On("group_leave", u.onGroupLeave)
	return u
}

// Join performs the join round-trip, populates the account caches, and
// emits ChatReady carrying the snapshot.
func (u *UserSession) Join(ctx context.Context) (Snapshot, error) {
	raw, err := u.sess.Join(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, socket.NewError(socket.ErrCodeJoin, "decode account snapshot", err)
	}

	u.mu.Lock()
	u.user = snap.User
	u.friends = make(map[string]models.Friend, len(snap.Friends))
	for _, f := range snap.Friends {
		u.friends[f.User.ID] = f
	}
	u.groups = append([]string(nil), snap.Groups...)
	u.mu.Unlock()

	u.logger.Info("personal channel joined",
		"user_id", snap.User.ID,
		"friends", len(snap.Friends),
		"groups", len(snap.Groups))

	u.bus.Publish(events.ChatReady{
		User:    snap.User,
		Friends: snap.Friends,
		Groups:  snap.Groups,
	})
	return snap, nil
}

// User returns the cached current-user snapshot.
func (u *UserSession) User() models.User {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.user
}

// Friend returns the cached friend entry for a user id.
func (u *UserSession) Friend(userID string) (models.Friend, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	f, ok := u.friends[userID]
	return f, ok
}

// Groups returns the current group-room-id list. This list survives a
// supervisor-level cache reset and is what reconnect recovery rejoins
// from.
func (u *UserSession) Groups() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.groups...)
}

func (u *UserSession) onFriendAdd(payload json.RawMessage) {
	var f models.Friend
	if err := json.Unmarshal(payload, &f); err != nil {
		u.logger.Warn("bad friend_add payload", "error", err)
		return
	}
	u.mu.Lock()
	u.friends[f.User.ID] = f
	u.mu.Unlock()
	u.bus.Publish(events.FriendAdd{Friend: f})
}

// onFriendRemove drops the friend from the cache and carries the cached
// direct-message room id, if any, so the supervisor can leave it.
func (u *UserSession) onFriendRemove(payload json.RawMessage) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		u.logger.Warn("bad friend_remove payload", "error", err)
		return
	}

	u.mu.Lock()
	roomID := u.friends[body.UserID].RoomID
	delete(u.friends, body.UserID)
	u.mu.Unlock()

	u.bus.Publish(events.FriendRemove{UserID: body.UserID, RoomID: roomID})
}

func (u *UserSession) onFriendUpdated(payload json.RawMessage) {
	var f models.Friend
	if err := json.Unmarshal(payload, &f); err != nil {
		u.logger.Warn("bad friend_updated payload", "error", err)
		return
	}
	u.mu.Lock()
	u.friends[f.User.ID] = f
	u.mu.Unlock()
	u.bus.Publish(events.FriendUpdated{Friend: f})
}

func (u *UserSession) onYouUpdated(payload json.RawMessage) {
	var user models.User
	if err := json.Unmarshal(payload, &user); err != nil {
		u.logger.Warn("bad you_updated payload", "error", err)
		return
	}
	u.mu.Lock()
	u.user = user
	u.mu.Unlock()
	u.bus.Publish(events.YouUpdated{User: user})
}

func (u *UserSession) onGroupAdd(payload json.RawMessage) {
	var body struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.RoomID == "" {
		u.logger.Warn("bad group_add payload", "error", err)
		return
	}

	u.mu.Lock()
	present := false
	for _, id := range u.groups {
		if id == body.RoomID {
			present = true
			break
		}
	}
	if !present {
		u.groups = append(u.groups, body.RoomID)
	}
	u.mu.Unlock()

	u.bus.Publish(events.GroupAdd{RoomID: body.RoomID})
}

func (u *UserSession) onGroupLeave(payload json.RawMessage) {
	var body struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.RoomID == "" {
		u.logger.Warn("bad group_leave payload", "error", err)
		return
	}

	u.mu.Lock()
	for i, id := range u.groups {
		if id == body.RoomID {
			u.groups = append(u.groups[:i], u.groups[i+1:]...)
			break
		}
	}
	u.mu.Unlock()

	u.bus.Publish(events.GroupLeave{RoomID: body.RoomID})
}
