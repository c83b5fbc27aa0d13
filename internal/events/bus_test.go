package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)

	bus.Subscribe(TopicDueCountChanged, func(e Event) { got <- e })
	bus.Publish(TopicDueCountChanged, 7)

	e := waitFor(t, got)
	assert.Equal(t, TopicDueCountChanged, e.Topic)
	assert.Equal(t, 7, e.Payload)
	assert.False(t, e.At.IsZero())
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := NewBus()
	first := make(chan Event, 1)
	second := make(chan Event, 1)

	bus.Subscribe(TopicSyncError, func(e Event) { first <- e })
	bus.Subscribe(TopicSyncError, func(e Event) { second <- e })
	bus.Publish(TopicSyncError, "dead-lettered")

	waitFor(t, first)
	waitFor(t, second)
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)

	bus.Subscribe(TopicAuthRequired, func(e Event) { got <- e })
	bus.Publish(TopicSyncConflict, nil)

	select {
	case <-got:
		t.Fatal("handler received an event for a topic it never subscribed to")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutSubscribersIsSafe(t *testing.T) {
	bus := NewBus()
	require.NotPanics(t, func() { bus.Publish(TopicDueCountChanged, nil) })
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	bus.Subscribe(TopicDueCountChanged, func(Event) {
		<-release
		wg.Done()
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(TopicDueCountChanged, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	close(release)
	wg.Wait()
}
