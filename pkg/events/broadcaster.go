package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue depth used when no override is
// given to Subscribe.
const DefaultBuffer = 32

// Subscription is one attached consumer of a Broadcaster.
//
// The channel returned by C is closed when the subscription ends, either by
// an explicit Close or because the broadcaster dropped a subscriber that
// could not keep up.
type Subscription struct {
	ch        chan Event
	b         *Broadcaster
	closeOnce sync.Once
}

// C returns the receive channel for this subscription.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription from its broadcaster and closes the
// channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.Unsubscribe(s)
}

// Stats is a snapshot of broadcaster delivery counters.
type Stats struct {
	Published   int64 `json:"published"`
	Trimmed     int64 `json:"trimmed"`
	Dropped     int64 `json:"dropped_subscribers"`
	Subscribers int   `json:"subscribers"`
}

// Broadcaster fans events out to many concurrent subscribers.
//
// Delivery is best-effort per subscriber: each subscriber has a bounded
// queue, and when it is full the broadcaster trims the oldest buffered
// event and retries once. A subscriber that still cannot accept the event
// is closed and removed. Slow consumers therefore never stall Publish or
// each other beyond the bounded buffering step.
type Broadcaster struct {
	name   string
	buffer int
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	published atomic.Int64
	trimmed   atomic.Int64
	dropped   atomic.Int64
}

// NewBroadcaster creates a broadcaster for one event domain. The name is
// used only for logging. A buffer of zero or less falls back to
// DefaultBuffer.
func NewBroadcaster(name string, buffer int, logger *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		name:   name,
		buffer: buffer,
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe attaches a new consumer using the broadcaster's default buffer.
// The subscription receives every event published after it attaches; there
// is no backfill of earlier events.
func (b *Broadcaster) Subscribe() *Subscription {
	return b.SubscribeBuffer(b.buffer)
}

// SubscribeBuffer attaches a new consumer with an explicit queue depth.
func (b *Broadcaster) SubscribeBuffer(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	sub := &Subscription{
		ch: make(chan Event, buffer),
	}
	sub.b = b

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches a subscription and closes its channel. Detaching a
// subscription that is already gone is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[sub]
	if ok {
		delete(b.subs, sub)
	}
	b.mu.Unlock()
	if ok {
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
}

// Publish delivers the event to every live subscriber. It never blocks:
// sends are non-blocking, with the trim-then-drop overflow policy applied
// per subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.published.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		// Queue full: trim the oldest buffered event and retry once. For
		// monitoring feeds the next full-state event supersedes stale ones.
		select {
		case <-sub.ch:
			b.trimmed.Add(1)
			b.logger.Warn("event queue full, trimming oldest",
				zap.String("domain", b.name),
				zap.String("kind", ev.Kind),
				zap.String("action", "trim"))
		default:
		}

		select {
		case sub.ch <- ev:
			continue
		default:
		}

		// Still no room: this consumer cannot keep up at all. Drop it.
		delete(b.subs, sub)
		sub.closeOnce.Do(func() { close(sub.ch) })
		b.dropped.Add(1)
		b.logger.Warn("dropped subscriber that could not keep up",
			zap.String("domain", b.name),
			zap.String("kind", ev.Kind),
			zap.String("action", "drop"))
	}
}

// SubscriberCount returns the number of currently attached subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stats returns a snapshot of delivery counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Trimmed:     b.trimmed.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: b.SubscriberCount(),
	}
}
