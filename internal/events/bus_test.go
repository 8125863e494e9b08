package events

import (
	"testing"

	"github.com/emberside/firebot/pkg/models"
)

func TestBusDelivery(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.Subscribe(KindMessage, "a", func(ev Event) {
		got = append(got, "a:"+ev.(Message).Message.Body)
	})
	bus.Subscribe(KindMessage, "b", func(ev Event) {
		got = append(got, "b:"+ev.(Message).Message.Body)
	})
	bus.Subscribe(KindGroupAdd, "a", func(Event) {
		t.Fatal("group_add handler fired for message event")
	})

	bus.Publish(Message{Message: models.Message{Body: "hi"}})

	if len(got) != 2 || got[0] != "a:hi" || got[1] != "b:hi" {
		t.Fatalf("got %v, want both handlers once in order", got)
	}
}

func TestBusNamedSubscriptionIsIdempotent(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	bus.Subscribe(KindMessage, "handler", func(Event) { calls++ })
	bus.Subscribe(KindMessage, "handler", func(Event) { calls += 100 })

	bus.Publish(Message{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1; duplicate binding must be a no-op", calls)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	bus.Subscribe(KindMessage, "handler", func(Event) { calls++ })
	bus.Unsubscribe(KindMessage, "handler")
	bus.Publish(Message{})

	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after unsubscribe", calls)
	}
}

func TestBusSubscribeOnce(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	bus.SubscribeOnce(KindChatReady, "once", func(Event) { calls++ })

	bus.Publish(ChatReady{})
	bus.Publish(ChatReady{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	// The name is free again after firing.
	bus.SubscribeOnce(KindChatReady, "once", func(Event) { calls++ })
	bus.Publish(ChatReady{})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 after rebinding", calls)
	}
}

func TestBusOnceHandlerPublishingRecursively(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	bus.SubscribeOnce(KindChatReady, "once", func(Event) {
		calls++
		if calls == 1 {
			bus.Publish(ChatReady{})
		}
	})

	bus.Publish(ChatReady{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1; recursive publish must not re-fire", calls)
	}
}

func TestBusPublishNil(t *testing.T) {
	bus := NewBus(nil)
	bus.Publish(nil)
}
