// Package eventbus is a single-process, non-blocking topic bus for
// operator-visible activity: logs, periodic status heartbeats, and sealed
// reports.
//
// Grounded on the teacher's internal/reasoning/engine/engine_impl.go
// Subscribe/publish pattern: a per-subscriber buffered channel, and a
// publish loop that never blocks. Where that pattern dropped the new event
// on a full queue, Publish here evicts the subscriber's oldest buffered
// event to make room for it, so the producer is never stalled and the
// newest event is kept. This package generalizes that single-investigation
// fan-out into three named topics shared across the whole process.
package eventbus

import (
	"sync"
	"time"

	"github.com/kubilitics/invcore/internal/audit"
)

// Topic names the bus's three event channels (spec §4.8).
type Topic string

const (
	TopicLogs    Topic = "logs"
	TopicStatus  Topic = "status"
	TopicReports Topic = "reports"
)

// DefaultQueueCapacity is the default bounded per-subscriber queue depth.
const DefaultQueueCapacity = 256

// laggingWarnInterval rate-limits the subscriber_lagging warning to once
// per subscriber per 30s (spec §4.8).
const laggingWarnInterval = 30 * time.Second

// Subscription is a bounded stream of events for one topic.
type Subscription struct {
	ch   chan any
	bus  *Bus
	topic Topic
	id   int
}

// C returns the subscription's receive channel.
func (s *Subscription) C() <-chan any { return s.ch }

// Unsubscribe removes this subscription from the bus and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.topic, s.id)
}

type subscriber struct {
	id           int
	ch           chan any
	lastWarnedAt time.Time
}

// Bus is a single-process, topic-keyed, non-blocking publish/subscribe bus.
type Bus struct {
	mu       sync.Mutex
	capacity int
	logger   audit.Logger
	nextID   int
	subs     map[Topic]map[int]*subscriber
}

// New builds a Bus. capacity <= 0 uses DefaultQueueCapacity.
func New(capacity int, logger audit.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Bus{capacity: capacity, logger: logger, subs: map[Topic]map[int]*subscriber{}}
}

// Subscribe returns a bounded stream of events published on topic from now on.
func (b *Bus) Subscribe(topic Topic) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan any, b.capacity)}
	if b.subs[topic] == nil {
		b.subs[topic] = map[int]*subscriber{}
	}
	b.subs[topic][id] = sub
	return &Subscription{ch: sub.ch, bus: b, topic: topic, id: id}
}

func (b *Bus) unsubscribe(topic Topic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[topic]; ok {
		if sub, ok := subs[id]; ok {
			close(sub.ch)
			delete(subs, id)
		}
	}
}

// Publish delivers ev to every current subscriber of topic. Delivery never
// blocks: on a full subscriber queue, the oldest buffered event is evicted
// to make room for ev, and (at most once per laggingWarnInterval) a
// subscriber_lagging warning is logged, instead of stalling the producer or
// dropping the event just published.
func (b *Bus) Publish(topic Topic, ev any) {
	b.mu.Lock()
	subs := b.subs[topic]
	now := time.Now()
	var toWarn []int
	for id, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			if now.Sub(sub.lastWarnedAt) >= laggingWarnInterval {
				sub.lastWarnedAt = now
				toWarn = append(toWarn, id)
			}
		}
	}
	b.mu.Unlock()

	if b.logger != nil {
		for _, id := range toWarn {
			b.logger.Log(audit.NewEvent("eventbus", audit.LevelWarn, "subscriber_lagging").
				WithDetail("topic", string(topic)).WithDetail("subscriber_id", id))
		}
	}
}

// SubscriberCount returns the current number of subscribers for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
