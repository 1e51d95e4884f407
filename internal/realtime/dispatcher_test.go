package realtime

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToMatchingTables(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	courses, cleanupCourses := dispatcher.Subscribe(ctx, []string{"courses"})
	defer cleanupCourses()
	faqs, cleanupFaqs := dispatcher.Subscribe(ctx, []string{"faqs"})
	defer cleanupFaqs()

	dispatcher.Publish(ChangeEvent{Event: EventInsert, Table: "courses"})

	select {
	case event := <-courses:
		if event.Table != "courses" || event.Event != EventInsert {
			t.Fatalf("unexpected event %#v", event)
		}
		if event.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be stamped")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected course event within deadline")
	}

	select {
	case event := <-faqs:
		t.Fatalf("did not expect event for faq subscriber: %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherWildcardSubscription(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, nil)
	defer cleanup()

	dispatcher.Publish(ChangeEvent{Event: EventDelete, Table: "testimonials"})

	select {
	case event := <-stream:
		if event.Table != "testimonials" {
			t.Fatalf("unexpected table %s", event.Table)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestDispatcherIgnoresIncompleteEvents(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, nil)
	defer cleanup()

	dispatcher.Publish(ChangeEvent{Event: EventInsert})
	dispatcher.Publish(ChangeEvent{Table: "courses"})

	select {
	case event := <-stream:
		t.Fatalf("did not expect event %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherCleanupOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, _ := dispatcher.Subscribe(ctx, []string{"courses"})
	if dispatcher.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	select {
	case _, open := <-stream:
		if open {
			t.Fatalf("expected stream to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("expected stream to close after cancellation")
	}
	if dispatcher.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
}

func TestDispatcherCleanupReleasesWatcherWithoutCancel(t *testing.T) {
	dispatcher := NewDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), []string{"courses"})
	cleanup()
	cleanup()

	if _, open := <-stream; open {
		t.Fatalf("expected stream to be closed")
	}
	released := make(chan struct{})
	go func() {
		dispatcher.watchers.Wait()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("expected the context watcher to exit after cleanup")
	}
	if dispatcher.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
}

func TestDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, nil)
	defer cleanup()

	for index := 0; index < dispatcher.bufferSize+5; index++ {
		dispatcher.Publish(ChangeEvent{Event: EventUpdate, Table: "courses"})
	}
	if len(stream) != dispatcher.bufferSize {
		t.Fatalf("expected buffer to hold %d events, got %d", dispatcher.bufferSize, len(stream))
	}
}

func TestBroadcastResyncReachesFilteredSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, []string{"courses"})
	defer cleanup()

	dispatcher.broadcastResync()

	select {
	case event := <-stream:
		if event.Table != resyncTableWildcard {
			t.Fatalf("expected wildcard table, got %s", event.Table)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected resync event")
	}
}
