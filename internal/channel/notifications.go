package channel

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/emberside/firebot/internal/events"
	"github.com/emberside/firebot/internal/socket"
)

// NotificationTopic returns the transport topic for a user's notification
// stream.
func NotificationTopic(userID string) string { return "notifications:" + userID }

// NotificationSession subscribes to the grid-side notification topic and
// republishes pushes as Notification events. It carries no cache of its
// own.
type NotificationSession struct {
	sess   *socket.Session
	bus    *events.Bus
	logger *slog.Logger
}

// NewNotifications creates the notification session and binds its single
// handler.
func NewNotifications(conn *socket.Conn, userID string, bus *events.Bus, logger *slog.Logger) *NotificationSession {
	if logger == nil {
		logger = slog.Default()
	}
	n := &NotificationSession{
		sess:   conn.Subscribe(NotificationTopic(userID)),
		bus:    bus,
		logger: logger.With("component", "notifications"),
	}
	n.sess.On("new-notification", n.onNotification)
	return n
}

// Join performs the join round-trip.
func (n *NotificationSession) Join(ctx context.Context) error {
	_, err := n.sess.Join(ctx, nil)
	return err
}

// Leave tears down the subscription.
func (n *NotificationSession) Leave(ctx context.Context) {
	n.sess.Leave(ctx)
}

func (n *NotificationSession) onNotification(payload json.RawMessage) {
	var body struct {
		Type   string `json:"type"`
		RoomID string `json:"room_id"`
		Body   string `json:"body"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		n.logger.Warn("bad notification payload", "error", err)
		return
	}
	n.bus.Publish(events.Notification{Type: body.Type, RoomID: body.RoomID, Body: body.Body})
}
