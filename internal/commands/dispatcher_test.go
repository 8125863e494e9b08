package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberside/firebot/internal/events"
	"github.com/emberside/firebot/pkg/models"
)

// fakeGateway records replies and serves room snapshots.
type fakeGateway struct {
	mu      sync.Mutex
	replies []string
	rooms   map[string]models.Room
	botID   string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		rooms: map[string]models.Room{
			"group-1": {ID: "group-1", Type: models.RoomClosedGroup, OwnerID: "owner"},
			"dm-1":    {ID: "dm-1", Type: models.RoomDirectMessage},
		},
		botID: "bot",
	}
}

func (g *fakeGateway) SendMessage(ctx context.Context, body, roomID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, roomID+": "+body)
	return nil
}

func (g *fakeGateway) Room(roomID string) (models.Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	return room, ok
}

func (g *fakeGateway) BotUserID() string { return g.botID }

func (g *fakeGateway) lastReply() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.replies) == 0 {
		return ""
	}
	return g.replies[len(g.replies)-1]
}

func (g *fakeGateway) replyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.replies)
}

func msg(author, room, body string) models.Message {
	return models.Message{ID: "m1", AuthorID: author, RoomID: room, Body: body}
}

func newTestDispatcher(t *testing.T, cmds ...*Command) (*Dispatcher, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway()
	registry := NewRegistry(nil)
	for _, c := range cmds {
		if err := registry.Register(c); err != nil {
			t.Fatalf("Register(%s): %v", c.Name, err)
		}
	}
	d := NewDispatcher(DispatcherConfig{
		DefaultPrefix: "!",
		OwnerID:       "admin",
		Blocked:       []string{"troll"},
	}, registry, gw, nil)
	d.SetReady(true)
	return d, gw
}

func TestDispatchRunsAction(t *testing.T) {
	ran := make(chan []string, 1)
	cmd := &Command{Name: "echo", Run: func(ctx context.Context, inv *Invocation) error {
		ran <- inv.Args
		return nil
	}}
	d, _ := newTestDispatcher(t, cmd)

	d.HandleMessage(context.Background(), msg("alice", "group-1", "!echo  hello   world"))

	select {
	case args := <-ran:
		if len(args) != 2 || args[0] != "hello" || args[1] != "world" {
			t.Fatalf("args = %v", args)
		}
	case <-time.After(time.Second):
		t.Fatal("action never ran")
	}
}

func TestDispatchGateBlocksUntilReady(t *testing.T) {
	ran := make(chan struct{}, 1)
	cmd := &Command{Name: "ping", Run: func(ctx context.Context, inv *Invocation) error {
		ran <- struct{}{}
		return nil
	}}
	d, gw := newTestDispatcher(t, cmd)
	d.SetReady(false)

	d.HandleMessage(context.Background(), msg("alice", "group-1", "!ping"))

	select {
	case <-ran:
		t.Fatal("action ran before the dispatcher was ready")
	case <-time.After(50 * time.Millisecond):
	}
	if gw.replyCount() != 0 {
		t.Fatal("reply sent while gated")
	}

	d.SetReady(true)
	d.HandleMessage(context.Background(), msg("alice", "group-1", "!ping"))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("action never ran after gate opened")
	}
}

func TestDispatchReadyGateViaBus(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.SetReady(false)

	bus := events.NewBus(nil)
	d.Bind(bus)

	bus.Publish(events.ChatReady{})
	if !d.Ready() {
		t.Fatal("ChatReady did not open the dispatch gate")
	}
}

func TestDispatchSilentSkips(t *testing.T) {
	cmd := &Command{Name: "ping", Run: func(ctx context.Context, inv *Invocation) error {
		t.Error("action ran for a skipped message")
		return nil
	}}

	cases := []struct {
		name string
		msg  models.Message
	}{
		{"own message", msg("bot", "group-1", "!ping")},
		{"empty author", msg("", "group-1", "!ping")},
		{"blocked user", msg("troll", "group-1", "!ping")},
		{"no prefix", msg("alice", "group-1", "ping")},
		{"bare prefix", msg("alice", "group-1", "!")},
		{"prefix with spaces", msg("alice", "group-1", "!   ")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, gw := newTestDispatcher(t, cmd)
			d.HandleMessage(context.Background(), tc.msg)
			time.Sleep(20 * time.Millisecond)
			if gw.replyCount() != 0 {
				t.Fatalf("replies = %d, want silent skip", gw.replyCount())
			}
		})
	}
}

func TestDispatchUnknownCommandReplies(t *testing.T) {
	d, gw := newTestDispatcher(t)

	d.HandleMessage(context.Background(), msg("alice", "group-1", "!nosuch"))

	if got := gw.lastReply(); got != "group-1: "+replyNotFound {
		t.Fatalf("reply = %q", got)
	}
}

func TestDispatchPermissionGates(t *testing.T) {
	deny := func(t *testing.T, cmd *Command, m models.Message, want string) {
		t.Helper()
		ran := false
		cmd.Run = func(ctx context.Context, inv *Invocation) error {
			ran = true
			return nil
		}
		d, gw := newTestDispatcher(t, cmd)
		d.HandleMessage(context.Background(), m)
		time.Sleep(20 * time.Millisecond)
		if ran {
			t.Fatal("action ran despite gate")
		}
		if got := gw.lastReply(); !strings.HasSuffix(got, want) {
			t.Fatalf("reply = %q, want suffix %q", got, want)
		}
	}

	t.Run("group only in dm", func(t *testing.T) {
		deny(t, &Command{Name: "scores", GroupOnly: true},
			msg("alice", "dm-1", "!scores"), replyGroupOnly)
	})
	t.Run("admin only", func(t *testing.T) {
		deny(t, &Command{Name: "reload", AdminOnly: true},
			msg("alice", "group-1", "!reload"), replyAdminOnly)
	})
	t.Run("room owner only", func(t *testing.T) {
		deny(t, &Command{Name: "prefix", RoomOwnerOnly: true},
			msg("alice", "group-1", "!prefix ?"), replyOwnerOnly)
	})
}

func TestDispatchPermissionGrants(t *testing.T) {
	grant := func(t *testing.T, cmd *Command, m models.Message) {
		t.Helper()
		ran := make(chan struct{}, 1)
		cmd.Run = func(ctx context.Context, inv *Invocation) error {
			ran <- struct{}{}
			return nil
		}
		d, _ := newTestDispatcher(t, cmd)
		d.HandleMessage(context.Background(), m)
		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("action never ran")
		}
	}

	t.Run("admin passes admin gate", func(t *testing.T) {
		grant(t, &Command{Name: "reload", AdminOnly: true},
			msg("admin", "group-1", "!reload"))
	})
	t.Run("owner passes owner gate", func(t *testing.T) {
		grant(t, &Command{Name: "prefix", RoomOwnerOnly: true},
			msg("owner", "group-1", "!prefix ?"))
	})
	t.Run("owner gate skipped in dm", func(t *testing.T) {
		grant(t, &Command{Name: "prefix", RoomOwnerOnly: true},
			msg("alice", "dm-1", "!prefix ?"))
	})
}

func TestDispatchCooldownNotifiesOnce(t *testing.T) {
	ran := make(chan struct{}, 8)
	cmd := &Command{Name: "ping", Cooldown: 10 * time.Second,
		Run: func(ctx context.Context, inv *Invocation) error {
			ran <- struct{}{}
			return nil
		}}
	d, gw := newTestDispatcher(t, cmd)

	d.HandleMessage(context.Background(), msg("alice", "group-1", "!ping"))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("first invocation never ran")
	}

	// Repeat invocations in the window: a single notification, then
	// silence.
	for i := 0; i < 3; i++ {
		d.HandleMessage(context.Background(), msg("alice", "group-1", "!ping"))
	}
	time.Sleep(20 * time.Millisecond)

	if gw.replyCount() != 1 {
		t.Fatalf("replies = %d, want exactly one cooldown notice", gw.replyCount())
	}
	if got := gw.lastReply(); !strings.Contains(got, "Hold on!") {
		t.Fatalf("reply = %q", got)
	}
	if len(ran) != 0 {
		t.Fatal("action ran during cooldown")
	}

	// Another user is not affected.
	d.HandleMessage(context.Background(), msg("carol", "group-1", "!ping"))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("other user's invocation never ran")
	}
}

func TestDispatchRoomPrefixOverride(t *testing.T) {
	ran := make(chan struct{}, 2)
	cmd := &Command{Name: "ping", Run: func(ctx context.Context, inv *Invocation) error {
		ran <- struct{}{}
		return nil
	}}
	d, _ := newTestDispatcher(t, cmd)

	var observed []string
	d.OnPrefixChange(func(roomID, prefix string) {
		observed = append(observed, roomID+"="+prefix)
	})
	d.SetRoomPrefix("group-1", "?")

	// The old prefix no longer triggers in that room.
	d.HandleMessage(context.Background(), msg("alice", "group-1", "!ping"))
	time.Sleep(20 * time.Millisecond)
	if len(ran) != 0 {
		t.Fatal("default prefix still active after override")
	}

	d.HandleMessage(context.Background(), msg("alice", "group-1", "?ping"))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("override prefix did not dispatch")
	}

	// Other rooms keep the default.
	d.HandleMessage(context.Background(), msg("alice", "dm-1", "!ping"))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("default prefix lost in other rooms")
	}

	if len(observed) != 1 || observed[0] != "group-1=?" {
		t.Fatalf("observer calls = %v", observed)
	}
}

func TestDispatchContainsPanics(t *testing.T) {
	panicked := make(chan struct{}, 1)
	cmd := &Command{Name: "explode", Run: func(ctx context.Context, inv *Invocation) error {
		close(panicked)
		panic("boom")
	}}
	d, _ := newTestDispatcher(t, cmd)
	var mu sync.Mutex
	errored := 0
	d.SetMetrics(DispatchMetrics{Errors: func(string) {
		mu.Lock()
		errored++
		mu.Unlock()
	}})

	d.HandleMessage(context.Background(), msg("alice", "group-1", "!explode"))

	select {
	case <-panicked:
	case <-time.After(time.Second):
		t.Fatal("action never ran")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := errored
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("panic not recorded as command error")
}

func TestDispatchCustomSeparator(t *testing.T) {
	ran := make(chan []string, 1)
	cmd := &Command{Name: "poll", Separator: "|", Run: func(ctx context.Context, inv *Invocation) error {
		ran <- inv.Args
		return nil
	}}
	d, _ := newTestDispatcher(t, cmd)

	d.HandleMessage(context.Background(), msg("alice", "group-1", "!poll option one | option two |  "))

	select {
	case args := <-ran:
		if len(args) != 2 || args[0] != "option one" || args[1] != "option two" {
			t.Fatalf("args = %v", args)
		}
	case <-time.After(time.Second):
		t.Fatal("action never ran")
	}
}
