// Package bus is the in-process notification boundary between the
// engine and whatever consumes chat/message/presence updates.
package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to subscribers by kind prefix. Publishing never
// blocks: a subscriber that cannot keep up loses events.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	prefix     string
	instanceID int64 // 0 matches every instance
	ch         chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish delivers evt to every subscriber whose prefix matches
// evt.Kind and whose instance filter matches evt.InstanceID.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.instanceID != 0 && sub.instanceID != evt.InstanceID {
			continue
		}
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Subscriber full, drop.
		}
	}
}

// Subscribe registers a prefix subscription across all instances.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(prefix, 0, bufSize)
}

// SubscribeInstance registers a prefix subscription limited to a single
// instance's events.
func (b *Bus) SubscribeInstance(prefix string, instanceID int64, bufSize int) (<-chan Event, func()) {
	return b.subscribe(prefix, instanceID, bufSize)
}

func (b *Bus) subscribe(prefix string, instanceID int64, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, instanceID: instanceID, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
