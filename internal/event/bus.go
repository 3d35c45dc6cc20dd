package event

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/loom/internal/logging"
)

const defaultSubscriberCapacity = 100

// Option customizes Bus construction.
type Option func(*Bus)

// WithLogger injects a logger for drop diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSubscriberCapacity overrides the buffered channel size per subscriber.
func WithSubscriberCapacity(capacity int) Option {
	return func(b *Bus) {
		if capacity > 0 {
			b.channelSize = capacity
		}
	}
}

// WithClock overrides the clock used to stamp events.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// Bus fans typed events out to kind-keyed handler subscriptions. Publish
// never blocks: each subscription owns a bounded channel drained by its own
// delivery goroutine, and overflow drops the oldest buffered event unless it
// is critical.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind]map[*subscriber]struct{}
	channelSize int
	clock       func() time.Time
	logger      logging.Logger
	closed      bool
}

// NewBus constructs a bus with sane defaults.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: map[Kind]map[*subscriber]struct{}{},
		channelSize: defaultSubscriberCapacity,
		clock:       time.Now,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscription represents an active handler registration.
type Subscription struct {
	bus  *Bus
	kind Kind
	sub  *subscriber
}

// Close detaches the handler and waits for in-flight deliveries to finish.
// Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.bus == nil || s.sub == nil {
		return
	}
	s.bus.removeSubscriber(s.kind, s.sub)
	s.sub.close()
	<-s.sub.done
}

// Subscribe registers a handler for a kind. The empty kind and KindAll
// subscribe to every event. Handlers for one subscription run sequentially
// in publish order.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	normalized := NormalizeKind(kind)
	sub := newSubscriber(b.channelSize, b.logger)
	subscription := &Subscription{bus: b, kind: normalized, sub: sub}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		close(sub.done)
		return subscription
	}
	if b.subscribers[normalized] == nil {
		b.subscribers[normalized] = map[*subscriber]struct{}{}
	}
	b.subscribers[normalized][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		for ev := range sub.ch {
			handler(ev)
		}
	}()
	return subscription
}

// Publish stamps and delivers the event to matching subscriptions.
func (b *Bus) Publish(ev Event) {
	ev.Kind = NormalizeKind(ev.Kind)
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = b.clock().UTC()
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*subscriber, 0, 4)
	for sub := range b.subscribers[ev.Kind] {
		subs = append(subs, sub)
	}
	for sub := range b.subscribers[KindAll] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.deliver(ev)
	}
}

// Close detaches every subscription and waits for their deliveries to
// finish. Publishing after Close is a no-op. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.subscribers {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.subscribers = map[Kind]map[*subscriber]struct{}{}
	b.mu.Unlock()
	for _, sub := range all {
		sub.close()
		<-sub.done
	}
}

func (b *Bus) removeSubscriber(kind Kind, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.subscribers[kind]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, kind)
		}
	}
}

type subscriber struct {
	ch     chan Event
	done   chan struct{}
	logger logging.Logger
	mu     sync.Mutex
	closed bool
}

func newSubscriber(capacity int, logger logging.Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// deliver enqueues without ever blocking. Every send and the overflow
// receive are non-blocking selects, so holding mu here cannot deadlock
// against the drain goroutine.
func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case oldest := <-s.ch:
		keep, dropped := ev, oldest
		if !shouldDropOldest(oldest, ev) {
			keep, dropped = oldest, ev
		}
		s.logDrop(dropped)
		select {
		case s.ch <- keep:
		default:
			s.logDrop(keep)
		}
	default:
		// Drained between the two selects; retry once.
		select {
		case s.ch <- ev:
		default:
			s.logDrop(ev)
		}
	}
}

func (s *subscriber) logDrop(ev Event) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("event: dropped %s (queue overflow)", ev.Kind)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func shouldDropOldest(oldest, incoming Event) bool {
	oldestCritical := isCritical(oldest.Kind)
	incomingCritical := isCritical(incoming.Kind)
	switch {
	case oldestCritical && !incomingCritical:
		return false
	case !oldestCritical && incomingCritical:
		return true
	}
	oldestPreferred := isPreferredDrop(oldest.Kind)
	incomingPreferred := isPreferredDrop(incoming.Kind)
	if oldestPreferred && !incomingPreferred {
		return true
	}
	if !oldestPreferred && incomingPreferred {
		return false
	}
	return true
}
