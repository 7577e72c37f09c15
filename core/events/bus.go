// Package events carries the module lifecycle, permission ledger and
// execution topics over an in-process pub/sub bus.
package events

import (
	"context"
	"sync"
)

// TypedEvent is implemented by every payload published on the bus; the
// returned string names the topic the payload belongs to.
type TypedEvent interface {
	EventType() string
}

// Bus fans published payloads out to topic subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses events
// rather than blocking publishers.
type Bus interface {
	Subscribe(topic string) (<-chan TypedEvent, func(), error)
	Publish(ctx context.Context, topic string, payload TypedEvent)
	Close()
}

const subscriberBuffer = 16

type memoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan TypedEvent
	closed bool
}

// New creates an in-process bus.
func New() Bus {
	return &memoryBus{subs: make(map[string]map[int]chan TypedEvent)}
}

// Subscribe registers a channel on the topic. The returned cancel func
// detaches and closes the channel; calling it twice is safe. Subscribing to
// a closed bus yields an already-closed channel.
func (b *memoryBus) Subscribe(topic string) (<-chan TypedEvent, func(), error) {
	ch := make(chan TypedEvent, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}, nil
	}

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan TypedEvent)
	}
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		topicSubs := b.subs[topic]
		if _, live := topicSubs[id]; !live {
			return
		}
		delete(topicSubs, id)
		close(ch)
		if len(topicSubs) == 0 {
			delete(b.subs, topic)
		}
	}
	return ch, cancel, nil
}

// Publish delivers the payload to every current subscriber of the topic.
// A full subscriber channel drops the event; a cancelled ctx stops the
// fan-out early.
func (b *memoryBus) Publish(ctx context.Context, topic string, payload TypedEvent) {
	b.mu.RLock()
	targets := make([]chan TypedEvent, 0, len(b.subs[topic]))
	for _, ch := range b.subs[topic] {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Close shuts the bus down, closing every subscriber channel. Further
// publishes are silently dropped.
func (b *memoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, topicSubs := range b.subs {
		for _, ch := range topicSubs {
			close(ch)
		}
		delete(b.subs, topic)
	}
}
