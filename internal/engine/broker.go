package engine

import (
	"sync"
	"time"

	"github.com/seantiz/lakerun/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// StatusEvent is one observed state of a remote operation, published each
// time a poll loop fetches a snapshot.
type StatusEvent struct {
	Kind  model.OperationKind `json:"kind"`
	ID    string              `json:"id"`
	State string              `json:"state"`
	At    time.Time           `json:"at"`
}

// Topic returns the broker topic for an operation.
func Topic(kind model.OperationKind, id string) string {
	return string(kind) + "/" + id
}

// Broker fans out status events to watchers while an operation is being
// awaited. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after an operation finishes) receive a closed channel instead
// of blocking forever.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan StatusEvent
	nextID int
	closed bool
}

// NewBroker creates a new status event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives status events for the given
// topic and an unsubscribe function. If the operation has already finished
// (Close was called), the returned channel is immediately closed.
func (b *Broker) Subscribe(topic string) (<-chan StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan StatusEvent)}
		b.topics[topic] = t
	}

	ch := make(chan StatusEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a status event to all subscribers of the given topic.
// Events are dropped for subscribers whose buffers are full.
func (b *Broker) Publish(topic string, ev StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid stalling the poll loop.
		}
	}
}

// Close signals that no more events will be published for the given topic.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *Broker) Close(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		// Closed marker so late subscribers get a closed channel.
		b.topics[topic] = &eventTopic{subs: make(map[int]chan StatusEvent), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
