// Package models defines the shared value types for rooms, users and
// messages exchanged with the chat service.
package models

import (
	"time"
)

// RoomType classifies a chat room.
type RoomType string

const (
	RoomDirectMessage RoomType = "dm"
	RoomClosedGroup   RoomType = "group"
	RoomFiresideGroup RoomType = "fireside"
)

// Room is a mutable snapshot of a chat room the bot currently occupies.
// It is updated in place by membership events and removed from the active
// room table on leave.
type Room struct {
	ID      string   `json:"id"`
	Type    RoomType `json:"type"`
	Name    string   `json:"name,omitempty"`
	OwnerID string   `json:"owner_id,omitempty"`
	Members []User   `json:"members,omitempty"`
}

// IsDirect reports whether the room is a one-to-one conversation.
func (r *Room) IsDirect() bool {
	return r.Type == RoomDirectMessage
}

// Clone returns a copy whose Members slice shares no storage with the
// original, so in-place membership edits on one never leak into the
// other.
func (r Room) Clone() Room {
	out := r
	out.Members = append([]User(nil), r.Members...)
	return out
}

// Member returns the member with the given user id, if present.
func (r *Room) Member(userID string) (User, bool) {
	for _, m := range r.Members {
		if m.ID == userID {
			return m, true
		}
	}
	return User{}, false
}

// RemoveMember deletes the member with the given user id from the snapshot.
// It reports whether a member was actually removed; removing an unknown
// member is a no-op.
func (r *Room) RemoveMember(userID string) (User, bool) {
	for i, m := range r.Members {
		if m.ID == userID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return m, true
		}
	}
	return User{}, false
}

// AddMembers appends new members to the snapshot, skipping duplicates.
func (r *Room) AddMembers(users []User) {
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if _, ok := r.Member(u.ID); ok {
			continue
		}
		r.Members = append(r.Members, u)
	}
}

// User is a snapshot of a chat participant. Updates arrive as full
// replacements from the service, never as field-level mutations.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Message is an inbound or outbound chat message. Body is an opaque
// serialized string; the document model that produces it lives outside
// this module.
type Message struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	RoomID    string    `json:"room_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Score is a per-room leaderboard entry kept by the storage collaborator.
type Score struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Value  int64  `json:"value"`
}

// Friend pairs a user snapshot with the id of the direct-message room
// shared with them, when one exists.
type Friend struct {
	User   User   `json:"user"`
	RoomID string `json:"room_id,omitempty"`
}
