// Package events defines the operational side-channel the row-limit proxy
// publishes filter decisions and cache lookups to, and the bounded pub-sub
// broker the HTTP/SSE and TUI diagnostic surfaces subscribe from. Event is
// never consulted by the transducer or the cache adapter themselves; it is
// a pure observability record.
package events

import (
	"sync"
	"time"
)

// Decision is the outcome the row-limit transducer reached for one
// client-to-server response.
type Decision string

const (
	DecisionForward     Decision = "forward"
	DecisionSyntheticOK Decision = "synthetic_ok"
)

// CacheOutcome summarizes a speculative cache lookup performed alongside a
// COM_QUERY request. It is empty when no cache lookup was attempted (no
// cache.Adapter configured, or the request wasn't a query).
type CacheOutcome string

const (
	CacheOutcomeHit       CacheOutcome = "hit"
	CacheOutcomeSoftStale CacheOutcome = "soft_stale"
	CacheOutcomeMiss      CacheOutcome = "miss"
	CacheOutcomeError     CacheOutcome = "error"
)

// Event is an operational record of one completed response: the row-limit
// decision reached, the row/byte counts observed, and (if a query
// classifier and cache adapter are wired in) the fingerprint key and
// lookup outcome for the query that produced it.
// The JSON field names are the wire shape of the web package's SSE stream
// and of TUI exports; changing them breaks external consumers.
type Event struct {
	SessionID       string       `json:"session_id"`
	Decision        Decision     `json:"decision"`
	Rows            int          `json:"rows"`
	Bytes           int          `json:"bytes"`
	CacheOutcome    CacheOutcome `json:"cache_outcome,omitempty"`
	Query           string       `json:"query"`
	NormalizedQuery string       `json:"normalized_query,omitempty"`
	FingerprintKey  string       `json:"fingerprint_key,omitempty"`
	DiscardStorm    bool         `json:"discard_storm,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Broker is a fixed-capacity fan-out pub-sub: Publish never blocks, instead
// dropping the event for any subscriber whose channel is full.
type Broker struct {
	capacity int

	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

// New creates a Broker whose per-subscriber channels buffer up to capacity
// events before Publish starts dropping for that subscriber.
func New(capacity int) *Broker {
	return &Broker{capacity: capacity, subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its event channel along
// with an unsubscribe function. The caller must call unsub exactly once
// when done listening.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, b.capacity)
	b.subs[id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsub
}

// Publish fans ev out to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the publisher.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
