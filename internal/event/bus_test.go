package event

import (
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/webpair/internal/errors"
)

func testEvent(eventType string) Event {
	return newBaseEvent(eventType, time.Now())
}

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(TypeQRCode, func(e Event) {
		received = e
	})

	bus.Publish(NewQRCodeEvent("2@abc", 3, time.Now()))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	qr, ok := received.(QRCodeEvent)
	if !ok {
		t.Fatalf("Expected QRCodeEvent, got %T", received)
	}
	if qr.Code != "2@abc" || qr.Attempt != 3 {
		t.Errorf("Unexpected QR event: %+v", qr)
	}
}

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := range 5 {
		bus.Subscribe("test.event", func(e Event) {
			order = append(order, i)
		})
	}

	bus.Publish(testEvent("test.event"))

	for i, got := range order {
		if got != i {
			t.Fatalf("Handlers called out of registration order: %v", order)
		}
	}
	if len(order) != 5 {
		t.Errorf("Expected 5 calls, got %d", len(order))
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("other.event", func(e Event) {
		t.Error("Handler should not be called for non-matching event type")
	})

	if failed := bus.Publish(testEvent("test.event")); failed != 0 {
		t.Errorf("Publish() failed = %d, want 0", failed)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	var events []string
	bus.SubscribeAll(func(e Event) {
		events = append(events, e.EventType())
	})

	bus.Publish(testEvent("event.one"))
	bus.Publish(testEvent("event.two"))
	bus.Publish(testEvent("event.three"))

	expected := []string{"event.one", "event.two", "event.three"}
	if len(events) != len(expected) {
		t.Fatalf("Expected %d events, got %d", len(expected), len(events))
	}
	for i, e := range expected {
		if events[i] != e {
			t.Errorf("Expected event %d to be '%s', got '%s'", i, e, events[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return true when subscription exists")
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after unsubscribe, got %d", bus.SubscriptionCount())
	}

	bus.Publish(testEvent("test.event"))

	if called {
		t.Error("Handler should not be called after unsubscribing")
	}
	if bus.Unsubscribe(id) {
		t.Error("Second Unsubscribe should return false")
	}
}

func TestBus_UnsubscribeFromWithinHandler(t *testing.T) {
	bus := NewBus()

	calls := make(map[string]int)
	var selfID string
	selfID = bus.Subscribe("test.event", func(e Event) {
		calls["self"]++
		bus.Unsubscribe(selfID)
	})
	bus.Subscribe("test.event", func(e Event) {
		calls["other"]++
	})

	bus.Publish(testEvent("test.event"))
	bus.Publish(testEvent("test.event"))

	if calls["self"] != 1 {
		t.Errorf("self-removing handler called %d times, want 1", calls["self"])
	}
	if calls["other"] != 2 {
		t.Errorf("other handler called %d times, want 2", calls["other"])
	}
}

func TestBus_UnsubscribeLaterHandlerMidDelivery(t *testing.T) {
	bus := NewBus()

	var laterID string
	laterCalls := 0
	bus.Subscribe("test.event", func(e Event) {
		bus.Unsubscribe(laterID)
	})
	laterID = bus.Subscribe("test.event", func(e Event) {
		laterCalls++
	})

	// The snapshot taken before delivery still includes the later handler.
	bus.Publish(testEvent("test.event"))
	bus.Publish(testEvent("test.event"))

	if laterCalls != 1 {
		t.Errorf("later handler called %d times, want 1", laterCalls)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("event.one", func(e Event) {})
	bus.Subscribe("event.two", func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	if bus.SubscriptionCount() != 3 {
		t.Errorf("Expected 3 subscriptions before clear, got %d", bus.SubscriptionCount())
	}

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after clear, got %d", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var failures []*errors.HandlerError
	bus := NewBus(WithFailureHook(func(err *errors.HandlerError) {
		failures = append(failures, err)
	}))

	calls := 0
	panicID := bus.Subscribe("test.event", func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe("test.event", func(e Event) {
		calls++
	})

	failed := bus.Publish(testEvent("test.event"))

	if calls != 2 {
		t.Errorf("Expected both handlers to be called despite panic, got %d calls", calls)
	}
	if failed != 1 {
		t.Errorf("Publish() failed = %d, want 1", failed)
	}
	if len(failures) != 1 {
		t.Fatalf("Expected 1 failure report, got %d", len(failures))
	}
	if failures[0].SubscriptionID != panicID {
		t.Errorf("SubscriptionID = %q, want %q", failures[0].SubscriptionID, panicID)
	}
	if failures[0].Topic != "test.event" {
		t.Errorf("Topic = %q, want %q", failures[0].Topic, "test.event")
	}
	if !errors.Is(failures[0], errors.ErrHandlerFailed) {
		t.Error("failure should match ErrHandlerFailed")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	calls := 0
	bus.Subscribe("test.event", func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			bus.Publish(testEvent("test.event"))
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("Expected 100 calls, got %d", calls)
	}
}

func TestBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			id := bus.Subscribe("test.event", func(e Event) {})
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after concurrent add/remove, got %d", bus.SubscriptionCount())
	}
}

func TestBus_MixedSubscriptions(t *testing.T) {
	bus := NewBus()

	var events []string
	bus.SubscribeAll(func(e Event) {
		events = append(events, "wildcard:"+e.EventType())
	})
	bus.Subscribe("specific.event", func(e Event) {
		events = append(events, "specific:"+e.EventType())
	})

	bus.Publish(testEvent("specific.event"))

	want := []string{"specific:specific.event", "wildcard:specific.event"}
	if len(events) != len(want) {
		t.Fatalf("Expected %d handler calls, got %d", len(want), len(events))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus()

	ids := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe("test.event", func(e Event) {})
		if ids[id] {
			t.Errorf("Duplicate subscription ID: %s", id)
		}
		ids[id] = true
	}
}

func TestReconnectedEvent_Duration(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ev := NewReconnectedEvent(start, start.Add(4*time.Second))

	if ev.EventType() != TypeReconnected {
		t.Errorf("EventType() = %q, want %q", ev.EventType(), TypeReconnected)
	}
	if ev.Duration() != 4*time.Second {
		t.Errorf("Duration() = %v, want 4s", ev.Duration())
	}
}
