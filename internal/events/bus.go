// Package events provides the typed publish/subscribe interface the core
// uses to notify its UI host. Delivery is non-blocking and fire-and-forget;
// a browser custom-event bridge is just one possible transport adapter on
// top of a subscription.
package events

import (
	"sync"
	"time"
)

// Topic identifies a notification channel.
type Topic string

const (
	// TopicDueCountChanged fires after any local mutation that may affect
	// the due-item badge. It is a refresh hint, not a delta.
	TopicDueCountChanged Topic = "due-count-changed"

	// TopicSyncConflict fires when the engine stores a ConflictItem for
	// external resolution.
	TopicSyncConflict Topic = "sync-conflict"

	// TopicSyncError fires when an outbox operation is dead-lettered.
	TopicSyncError Topic = "sync-error"

	// TopicAuthRequired fires when the remote endpoint rejects the current
	// credentials.
	TopicAuthRequired Topic = "auth-required"
)

// Event is a single published notification.
type Event struct {
	Topic   Topic
	Payload interface{}
	At      time.Time
}

// Handler receives published events for one topic.
type Handler func(Event)

// Bus is an in-process observer list keyed by topic.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

// Publish delivers an event to all subscribers of its topic. Handlers run
// on their own goroutines so a slow subscriber never blocks the publisher.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.RUnlock()

	e := Event{Topic: topic, Payload: payload, At: time.Now()}
	for _, h := range handlers {
		go h(e)
	}
}
