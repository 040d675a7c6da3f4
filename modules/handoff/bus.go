package handoff

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-scan/modules/resolver"
)

var (
	ErrBusClosed          = errors.New("handoff: bus is closed")
	ErrSubscriberExists   = errors.New("handoff: subscriber already exists")
	ErrSubscriberNotFound = errors.New("handoff: subscriber not found")
	ErrNilChannel         = errors.New("handoff: nil channel provided")
)

// Delivery is one hand-off.
type Delivery struct {
	SessionID   string
	Reference   resolver.ProductReference
	DeliveredAt time.Time
}

// SubscriberStats counts what a subscriber got and missed.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	TotalPublished uint64
	Subscribers    map[string]SubscriberStats
}

type policy int

const (
	dropNew policy = iota
	dropOld
)

type subscriber struct {
	policy  policy
	ch      chan<- Delivery
	latest  *Latest
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes deliveries. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch. Deliveries that do not fit in ch are dropped.
func (b *Bus) Subscribe(id string, ch chan<- Delivery) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{policy: dropNew, ch: ch})
}

// SubscribeLatest registers a receiver that keeps only the newest delivery.
func (b *Bus) SubscribeLatest(id string) (*Latest, error) {
	l := newLatest()
	if err := b.add(id, &subscriber{policy: dropOld, latest: l}); err != nil {
		return nil, err
	}
	return l, nil
}

func (b *Bus) add(id string, s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

// Publish offers d to every subscriber without blocking.
func (b *Bus) Publish(d Delivery) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case dropNew:
			select {
			case s.ch <- d:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
			}
		case dropOld:
			if s.latest.set(d) {
				s.dropped.Add(1)
			}
			s.sent.Add(1)
		}
	}
}

// Unsubscribe removes id. Its channel is not closed; a Latest receiver is.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns counters for the bus and every subscriber.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		TotalPublished: b.published.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		st.Subscribers[id] = SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
	}
	return st
}

// Close drops every subscriber. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// Latest holds the newest delivery for a SubscribeLatest subscriber.
type Latest struct {
	mu     sync.Mutex
	cond   *sync.Cond
	d      *Delivery
	unread bool
	closed bool
}

func newLatest() *Latest {
	l := &Latest{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// set stores d and reports whether an unread delivery was overwritten.
func (l *Latest) set(d Delivery) (overwrote bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	overwrote = l.unread
	l.d = &d
	l.unread = true
	l.cond.Broadcast()
	return overwrote
}

// Receive blocks until an unread delivery exists or the receiver is closed.
// ok is false after Close.
func (l *Latest) Receive() (Delivery, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.unread && !l.closed {
		l.cond.Wait()
	}
	if !l.unread {
		return Delivery{}, false
	}
	l.unread = false
	return *l.d, true
}

// Close wakes blocked receivers.
func (l *Latest) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.cond.Broadcast()
}
