package push

import (
	"strconv"
	"testing"
	"time"
)

func TestHubSubscribePublish(t *testing.T) {
	h := NewHub()
	events, cancel := h.Subscribe()
	defer cancel()

	h.Publish(Event{Type: "session_activity", SessionID: "s1", MessageCount: 3})

	select {
	case ev := <-events:
		if ev.SessionID != "s1" || ev.MessageCount != 3 {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected event, got none")
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe()

	if h.Len() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", h.Len())
	}
	cancel()
	if h.Len() != 0 {
		t.Errorf("Expected 0 subscribers after cancel, got %d", h.Len())
	}

	// Publishing after cancel must not panic or block.
	h.Publish(Event{SessionID: "s1"})
	cancel() // second cancel is a no-op
}

func TestHubSlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub()
	events, cancel := h.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(Event{SessionID: "s1", MessageCount: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := len(events); got != subscriberBuffer {
		t.Errorf("Expected buffer capped at %d events, got %d", subscriberBuffer, got)
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	h := NewHub()

	go func() {
		for i := 0; i < 1000; i++ {
			_, cancel := h.Subscribe()
			cancel()
		}
	}()

	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(Event{SessionID: "s" + strconv.Itoa(i)})
		}
	}()

	time.Sleep(100 * time.Millisecond)
}
