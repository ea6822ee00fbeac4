package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)
	h.Publish(Event{Name: "auth.login", UserID: "u-1"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case evt := <-ch:
			if evt.Name != "auth.login" || evt.UserID != "u-1" {
				t.Fatalf("subscriber %s got %+v", name, evt)
			}
			if evt.Timestamp.IsZero() {
				t.Fatalf("subscriber %s: timestamp not stamped", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = h.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		// Well past the channel buffer; must not deadlock.
		for i := 0; i < 100; i++ {
			h.Publish(Event{Name: "auth.login"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestContextCancelUnsubscribes(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	if got := h.Subscribers(); got != 1 {
		t.Fatalf("subscribers = %d", got)
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				if got := h.Subscribers(); got != 0 {
					t.Fatalf("subscribers after cancel = %d", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancel")
		}
	}
}
