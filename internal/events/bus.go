// Package events provides the in-process pub/sub bus the hosting UI layer
// subscribes to for dispatch and tail lifecycle notifications.
package events

import (
	"log"
	"strings"
	"sync"
	"time"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 64

const (
	// EventTypeRunSpawned fires when the run process starts.
	EventTypeRunSpawned = "RunSpawned"
	// EventTypeRunDetected fires when one of the detection paths resolves
	// the run identity.
	EventTypeRunDetected = "RunDetected"
	// EventTypeRunDispatchFailed fires when dispatch fails outright.
	EventTypeRunDispatchFailed = "RunDispatchFailed"
	// EventTypeTailTruncated fires when a tailed file was truncated or
	// rotated under the session.
	EventTypeTailTruncated = "TailTruncated"
)

// Event is one lifecycle notification.
type Event struct {
	Type       string
	Timestamp  time.Time
	DispatchID string
	RunID      string
	Payload    any
}

// Handler consumes a published event.
type Handler func(Event)

// Logger captures warnings for dropped events.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes bus construction.
type Option func(*Bus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *Bus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures the sink for dropped-event warnings.
func WithLogger(logger Logger) Option {
	return func(bus *Bus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// Bus is a thread-safe in-process pub/sub bus backed by buffered channels.
// Publish never blocks; events for a saturated subscriber are dropped and
// logged.
type Bus struct {
	mu           sync.RWMutex
	bufferSize   int
	logger       Logger
	typedSubs    map[string][]*subscriber
	wildcardSubs []*subscriber
	nextID       uint64
}

type subscriber struct {
	id uint64
	ch chan Event
}

// New creates an event bus.
func New(options ...Option) *Bus {
	bus := &Bus{
		bufferSize: DefaultBufferSize,
		logger:     log.Default(),
		typedSubs:  map[string][]*subscriber{},
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || handler == nil {
		return
	}
	sub := b.newSubscriber()

	b.mu.Lock()
	b.typedSubs[eventType] = append(b.typedSubs[eventType], sub)
	b.mu.Unlock()

	go b.consume(sub, handler)
}

// SubscribeAll registers a handler for every published event.
func (b *Bus) SubscribeAll(handler Handler) {
	if handler == nil {
		return
	}
	sub := b.newSubscriber()

	b.mu.Lock()
	b.wildcardSubs = append(b.wildcardSubs, sub)
	b.mu.Unlock()

	go b.consume(sub, handler)
}

// Publish delivers an event to matching subscribers without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.typedSubs[event.Type])+len(b.wildcardSubs))
	subs = append(subs, b.typedSubs[event.Type]...)
	subs = append(subs, b.wildcardSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.logger.Printf(
				"events: dropping event for subscriber=%d type=%s dispatch_id=%s run_id=%s",
				sub.id, event.Type, event.DispatchID, event.RunID,
			)
		}
	}
}

func (b *Bus) newSubscriber() *subscriber {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	return &subscriber{id: id, ch: make(chan Event, b.bufferSize)}
}

func (b *Bus) consume(sub *subscriber, handler Handler) {
	for event := range sub.ch {
		handler(event)
	}
}
