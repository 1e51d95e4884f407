package realtime

import (
	"context"
	"strings"
	"sync"
	"time"
)

// EventType mirrors the row-level change kinds reported to subscribers.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent tells subscribers that a table changed. It carries no row diff;
// consumers re-query the table.
type ChangeEvent struct {
	Event     EventType `json:"event"`
	Table     string    `json:"table"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts change events after a mutation commits.
type Publisher interface {
	Publish(event ChangeEvent)
}

// Subscriber hands out change streams filtered by table. An empty table list
// subscribes to every table.
type Subscriber interface {
	Subscribe(ctx context.Context, tables []string) (<-chan ChangeEvent, func())
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(ChangeEvent) {}

// Dispatcher fans change events out to in-process subscribers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscription
	nextID      int64
	bufferSize  int
	clock       func() time.Time
	watchers    sync.WaitGroup
}

type subscription struct {
	id     int64
	tables map[string]struct{}
	stream chan ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscription),
		bufferSize:  16,
		clock:       time.Now,
	}
}

func (d *Dispatcher) Subscribe(ctx context.Context, tables []string) (<-chan ChangeEvent, func()) {
	sub := &subscription{
		tables: normalizeTables(tables),
		stream: make(chan ChangeEvent, d.bufferSize),
		done:   make(chan struct{}),
	}

	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	cleanup := func() {
		d.unregister(sub)
	}
	d.watchers.Add(1)
	go func() {
		defer d.watchers.Done()
		select {
		case <-ctx.Done():
			cleanup()
		case <-sub.done:
		}
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every matching subscriber without blocking; a
// subscriber whose buffer is full misses the event and catches up on the next
// one, since every event triggers a full reload anyway.
func (d *Dispatcher) Publish(event ChangeEvent) {
	if event.Table == "" || event.Event == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.clock().UTC()
	}

	d.mu.RLock()
	targets := make([]*subscription, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		if sub.matches(event.Table) {
			targets = append(targets, sub)
		}
	}
	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
	d.mu.RUnlock()
}

// SubscriberCount reports the number of live subscriptions.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *Dispatcher) unregister(sub *subscription) {
	sub.once.Do(func() {
		d.mu.Lock()
		delete(d.subscribers, sub.id)
		close(sub.stream)
		close(sub.done)
		d.mu.Unlock()
	})
}

func (s *subscription) matches(table string) bool {
	if len(s.tables) == 0 {
		return true
	}
	_, ok := s.tables[table]
	return ok
}

func normalizeTables(tables []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		trimmed := strings.TrimSpace(table)
		if trimmed == "" {
			continue
		}
		set[trimmed] = struct{}{}
	}
	return set
}
