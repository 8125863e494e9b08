// Package events defines the closed set of bot-level event payloads and a
// small typed bus used to fan them out. Every event the transport can push
// has exactly one payload type here, so consumers switch over concrete
// types instead of trusting untyped shapes.
package events

import (
	"github.com/emberside/firebot/pkg/models"
)

// Kind identifies an event variant.
type Kind string

const (
	KindMessage       Kind = "message"
	KindMessageUpdate Kind = "message_update"
	KindUserUpdated   Kind = "user_updated"
	KindMemberAdd     Kind = "member_add"
	KindMemberLeave   Kind = "member_leave"
	KindOwnerSync     Kind = "owner_sync"
	KindFriendAdd     Kind = "friend_add"
	KindFriendRemove  Kind = "friend_remove"
	KindFriendUpdated Kind = "friend_updated"
	KindYouUpdated    Kind = "you_updated"
	KindGroupAdd      Kind = "group_add"
	KindGroupLeave    Kind = "group_leave"
	KindNotification  Kind = "new-notification"
	KindChatReady     Kind = "chat_ready"
)

// Event is implemented by every payload type in this package.
type Event interface {
	Kind() Kind
}

// Message is an inbound chat message from a joined room.
type Message struct {
	Message models.Message
}

func (Message) Kind() Kind { return KindMessage }

// MessageUpdate signals an edit to an existing message.
type MessageUpdate struct {
	Message models.Message
}

func (MessageUpdate) Kind() Kind { return KindMessageUpdate }

// UserUpdated carries a fresh user snapshot seen in a room.
type UserUpdated struct {
	RoomID string
	User   models.User
}

func (UserUpdated) Kind() Kind { return KindUserUpdated }

// MemberAdd signals users joining a room.
type MemberAdd struct {
	RoomID  string
	Members []models.User
}

func (MemberAdd) Kind() Kind { return KindMemberAdd }

// MemberLeave signals a user leaving a room. Member carries the snapshot
// that was cached before removal, when one was present.
type MemberLeave struct {
	RoomID string
	Member models.User
}

func (MemberLeave) Kind() Kind { return KindMemberLeave }

// OwnerSync signals a change of room ownership.
type OwnerSync struct {
	RoomID  string
	OwnerID string
}

func (OwnerSync) Kind() Kind { return KindOwnerSync }

// FriendAdd signals a new friend on the bot account.
type FriendAdd struct {
	Friend models.Friend
}

func (FriendAdd) Kind() Kind { return KindFriendAdd }

// FriendRemove signals a friend removal. RoomID is the cached
// direct-message room shared with that friend, empty if none was known.
type FriendRemove struct {
	UserID string
	RoomID string
}

func (FriendRemove) Kind() Kind { return KindFriendRemove }

// FriendUpdated carries a replacement snapshot for an existing friend.
type FriendUpdated struct {
	Friend models.Friend
}

func (FriendUpdated) Kind() Kind { return KindFriendUpdated }

// YouUpdated carries a replacement snapshot of the bot's own user.
type YouUpdated struct {
	User models.User
}

func (YouUpdated) Kind() Kind { return KindYouUpdated }

// GroupAdd signals the bot being added to a group room.
type GroupAdd struct {
	RoomID string
}

func (GroupAdd) Kind() Kind { return KindGroupAdd }

// GroupLeave signals the bot being removed from a group room.
type GroupLeave struct {
	RoomID string
}

func (GroupLeave) Kind() Kind { return KindGroupLeave }

// Notification is a server push on the bot's notification topic.
type Notification struct {
	Type   string
	RoomID string
	Body   string
}

func (Notification) Kind() Kind { return KindNotification }

// ChatReady is emitted exactly once per connection after the bot's
// personal channel join completes, carrying the initial account snapshot.
type ChatReady struct {
	User    models.User
	Friends []models.Friend
	Groups  []string
}

func (ChatReady) Kind() Kind { return KindChatReady }
