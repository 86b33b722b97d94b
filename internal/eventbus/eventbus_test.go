package eventbus

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBus_History_LengthIsMinPublishedAndCap(t *testing.T) {
	b := New(16, nil, zap.NewNop(), nil)

	for i := 0; i < 40; i++ {
		b.Publish(Event{Type: EventPathProgress})
	}
	if got := len(b.History()); got != 40 {
		t.Fatalf("History length = %d, want 40 (published_count < cap)", got)
	}

	for i := 0; i < defaultHistoryCap; i++ {
		b.Publish(Event{Type: EventPathProgress})
	}
	if got := len(b.History()); got != defaultHistoryCap {
		t.Fatalf("History length = %d, want %d (cap reached)", got, defaultHistoryCap)
	}
}

func TestBus_History_ChronologicalOrderAfterWraparound(t *testing.T) {
	b := New(16, nil, zap.NewNop(), nil)
	total := defaultHistoryCap + 5

	for i := 0; i < total; i++ {
		b.Publish(Event{Type: EventType(string(rune('a' + i%26)))})
	}

	hist := b.History()
	if len(hist) != defaultHistoryCap {
		t.Fatalf("len = %d, want %d", len(hist), defaultHistoryCap)
	}
	// The oldest retained event should be the (total-cap)-th published one.
	wantFirst := EventType(string(rune('a' + (total-defaultHistoryCap)%26)))
	if hist[0].Type != wantFirst {
		t.Fatalf("oldest retained event = %v, want %v", hist[0].Type, wantFirst)
	}
}

func TestBus_Publish_NonCriticalEventDeliveredAsynchronously(t *testing.T) {
	b := New(16, nil, zap.NewNop(), nil)
	ch := b.Subscribe("sub1", nil, nil)

	b.Publish(Event{Type: EventPathProgress, Payload: 42})

	select {
	case evt := <-ch:
		if evt.Payload != 42 {
			t.Fatalf("payload = %v, want 42", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the event on the subscriber channel")
	}
}

func TestBus_Publish_CriticalEventDispatchedSynchronously(t *testing.T) {
	b := New(16, []string{string(EventEmergencyStop)}, zap.NewNop(), nil)

	var mu sync.Mutex
	received := false
	b.Subscribe("sub1", nil, func(evt Event) {
		mu.Lock()
		received = true
		mu.Unlock()
	})

	b.Publish(Event{Type: EventEmergencyStop})

	mu.Lock()
	defer mu.Unlock()
	if !received {
		t.Fatal("expected the critical event handler to run synchronously within Publish")
	}
}

func TestBus_Publish_FullQueueDropsEventWithoutBlocking(t *testing.T) {
	b := New(1, nil, zap.NewNop(), nil)
	b.Subscribe("slow", nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: EventPathProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
}

func TestBus_Unsubscribe_RemovesSubscriber(t *testing.T) {
	b := New(16, nil, zap.NewNop(), nil)
	b.Subscribe("sub1", nil, nil)
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	b.Unsubscribe("sub1")
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after Unsubscribe")
	}
}

func TestBus_Subscribe_TypeFilterOnlyDeliversMatchingTypes(t *testing.T) {
	b := New(16, nil, zap.NewNop(), nil)
	ch := b.Subscribe("sub1", []EventType{EventPathProgress}, nil)

	b.Publish(Event{Type: EventStateTransition})
	b.Publish(Event{Type: EventPathProgress, Payload: "match"})

	select {
	case evt := <-ch:
		if evt.Type != EventPathProgress {
			t.Fatalf("expected only EventPathProgress delivered, got %v", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the filtered event on the subscriber channel")
	}

	select {
	case evt := <-ch:
		t.Fatalf("expected no second event on a filtered subscription, got %v", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_Subscribe_WildcardReceivesEveryType(t *testing.T) {
	b := New(16, nil, zap.NewNop(), nil)
	ch := b.Subscribe("sub1", nil, nil)

	b.Publish(Event{Type: EventStateTransition})
	b.Publish(Event{Type: EventPathProgress})

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("expected wildcard subscriber to receive event %d", i)
		}
	}
}
