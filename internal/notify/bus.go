package notify

import (
	"context"
	"sync"
	"time"
)

// ActivityCompleted is the process-wide signal emitted when some other
// part of the application finishes logging an activity. The engine turns
// it into a synthetic feed record without running a fetch cycle.
type ActivityCompleted struct {
	UserID     string
	Title      string
	OccurredAt time.Time
}

// ActivityBus fans ActivityCompleted signals out to per-user
// subscribers. Publishing never blocks: a subscriber whose buffer is
// full misses the signal.
type ActivityBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*activitySubscriber
	nextID      int64
	bufferSize  int
}

type activitySubscriber struct {
	id     int64
	stream chan ActivityCompleted
}

// NewActivityBus constructs an empty bus.
func NewActivityBus() *ActivityBus {
	return &ActivityBus{
		subscribers: make(map[string]map[int64]*activitySubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one user's signals. The returned
// cancel function (or the context ending) removes the subscription.
func (b *ActivityBus) Subscribe(ctx context.Context, userID string) (<-chan ActivityCompleted, func()) {
	if userID == "" {
		ch := make(chan ActivityCompleted)
		close(ch)
		return ch, func() {}
	}
	subscriber := &activitySubscriber{
		id:     b.nextSequence(),
		stream: make(chan ActivityCompleted, b.bufferSize),
	}
	b.registerSubscriber(userID, subscriber)
	cleanup := func() {
		b.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the signal to every current subscriber of its user.
func (b *ActivityBus) Publish(signal ActivityCompleted) {
	if signal.UserID == "" || signal.Title == "" {
		return
	}
	b.mu.RLock()
	subscribers := b.subscribers[signal.UserID]
	if len(subscribers) == 0 {
		b.mu.RUnlock()
		return
	}
	copies := make([]*activitySubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	b.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- signal:
		default:
		}
	}
}

func (b *ActivityBus) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *ActivityBus) registerSubscriber(userID string, subscriber *activitySubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[int64]*activitySubscriber)
	}
	b.subscribers[userID][subscriber.id] = subscriber
}

func (b *ActivityBus) unregisterSubscriber(userID string, subscriberID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subscribers, ok := b.subscribers[userID]
	if !ok {
		return
	}
	if subscriber, found := subscribers[subscriberID]; found {
		delete(subscribers, subscriberID)
		close(subscriber.stream)
	}
	if len(subscribers) == 0 {
		delete(b.subscribers, userID)
	}
}
