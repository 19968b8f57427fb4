// Package rewards holds the transient XP and coin notifications shown after a
// reward. Entries expire on their own and are never persisted.
package rewards

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jara-app/rewards-gateway/internal/config"
)

// Kind distinguishes XP from coin events.
type Kind string

// Kinds.
const (
	KindXP   Kind = "xp"
	KindCoin Kind = "coin"
)

// Event is one transient reward notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeType says what happened to an event.
type ChangeType string

// Change types.
const (
	ChangePushed  ChangeType = "pushed"
	ChangeRemoved ChangeType = "removed"
)

// Change is delivered to subscribers.
type Change struct {
	Type  ChangeType `json:"type"`
	Event Event      `json:"event"`
}

// Queue is a bounded, most-recent-first list of events of one kind. Each entry
// is removed by Dismiss or by its own expiry timer, whichever comes first.
type Queue struct {
	kind    Kind
	cap     int
	ttl     time.Duration
	clock   clockwork.Clock
	publish func(Change)

	mu     sync.Mutex
	events []Event
	timers map[string]clockwork.Timer
	closed bool
}

func newQueue(kind Kind, capacity int, ttl time.Duration, clock clockwork.Clock, publish func(Change)) *Queue {
	return &Queue{
		kind:    kind,
		cap:     capacity,
		ttl:     ttl,
		clock:   clock,
		publish: publish,
		timers:  make(map[string]clockwork.Timer),
	}
}

// Push adds an event at the front, evicting the oldest beyond the cap.
func (q *Queue) Push(amount int, reason string) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      q.kind,
		Amount:    amount,
		Reason:    reason,
		Timestamp: q.clock.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ev
	}
	q.events = append([]Event{ev}, q.events...)
	var evicted []Event
	if len(q.events) > q.cap {
		evicted = append(evicted, q.events[q.cap:]...)
		q.events = q.events[:q.cap]
		for _, e := range evicted {
			if t, ok := q.timers[e.ID]; ok {
				t.Stop()
				delete(q.timers, e.ID)
			}
		}
	}
	id := ev.ID
	q.timers[id] = q.clock.AfterFunc(q.ttl, func() { q.Dismiss(id) })
	q.mu.Unlock()

	q.publish(Change{Type: ChangePushed, Event: ev})
	for _, e := range evicted {
		q.publish(Change{Type: ChangeRemoved, Event: e})
	}
	return ev
}

// Dismiss removes the event with id. Unknown ids are a no-op.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	idx := -1
	for i, e := range q.events {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	ev := q.events[idx]
	q.events = append(q.events[:idx:idx], q.events[idx+1:]...)
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	q.publish(Change{Type: ChangeRemoved, Event: ev})
	return true
}

// Events returns a snapshot, most recent first.
func (q *Queue) Events() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Event(nil), q.events...)
}

// Len returns the number of live events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.events = nil
}

// Bus owns the XP and coin queues of one session and fans changes out to
// subscribers.
type Bus struct {
	XP   *Queue
	Coin *Queue

	mu     sync.Mutex
	subs   map[int]chan Change
	nextID int
}

// NewBus creates the two queues from the rewards configuration.
func NewBus(cfg *config.RewardsConfig, clock clockwork.Clock) *Bus {
	b := &Bus{subs: make(map[int]chan Change)}
	b.XP = newQueue(KindXP, cfg.QueueCap, time.Duration(cfg.XPTTLMS)*time.Millisecond, clock, b.broadcast)
	b.Coin = newQueue(KindCoin, cfg.QueueCap, time.Duration(cfg.CoinTTLMS)*time.Millisecond, clock, b.broadcast)
	return b
}

// Queue returns the queue for kind.
func (b *Bus) Queue(kind Kind) *Queue {
	if kind == KindCoin {
		return b.Coin
	}
	return b.XP
}

// Subscribe returns a channel of changes and a cancel func. Slow subscribers
// miss changes rather than block producers.
func (b *Bus) Subscribe(buffer int) (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Change, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Bus) broadcast(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Close stops every expiry timer and closes all subscriptions.
func (b *Bus) Close() {
	b.XP.close()
	b.Coin.close()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
