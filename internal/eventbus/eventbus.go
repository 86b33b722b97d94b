// Package eventbus implements the mower core's publish/subscribe event bus.
//
// Architecture:
//
//	Publish(event)
//	      |
//	      v
//	[per-subscriber buffered channel, cap=QueueSize]
//	      |
//	      v
//	[subscriber goroutine(s), started by the subscriber]
//
// Every subscriber gets its own channel; a slow subscriber cannot starve
// the others. Dispatch never blocks the publisher: a full subscriber
// channel drops the event and increments a drop counter, mirroring the
// ring-buffer-to-channel backpressure contract used for kernel events in
// the teacher's event processor.
//
// Subscribers register for a specific set of event types or, with a nil or
// empty type list, as a wildcard that receives everything published.
//
// Critical events (EmergencyStop, ObstacleDetected, ErrorOccurred by
// default, configurable) bypass the queue entirely and are dispatched
// synchronously in the publisher's goroutine, so an emergency stop is
// never delayed behind a backlog of routine telemetry events.
//
// Per-subscriber panic isolation: a handler that panics while processing
// a synchronously-dispatched critical event is recovered so one broken
// subscriber cannot crash the publisher or other subscribers.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/observability"
)

// EventType names the kind of event flowing through the bus.
type EventType string

const (
	EventSensorSnapshot   EventType = "SensorSnapshot"
	EventStateTransition  EventType = "StateTransition"
	EventObstacleDetected EventType = "ObstacleDetected"
	EventEmergencyStop    EventType = "EmergencyStop"
	EventErrorOccurred    EventType = "ErrorOccurred"
	EventPathProgress     EventType = "PathProgress"
	EventCommandReceived  EventType = "CommandReceived"
)

// Event is the envelope published to the bus. Payload is type-asserted by
// subscribers based on Type. ID uniquely identifies the event for
// cross-process correlation (bridge frames, audit ledger entries).
type Event struct {
	ID      string
	Type    EventType
	Payload any
}

// Handler processes one event. It must not block for long — critical
// events call Handler synchronously on the publishing goroutine.
type Handler func(Event)

// subscription holds one subscriber's queue and critical-path handler.
type subscription struct {
	id      string
	types   map[EventType]bool // nil or empty means wildcard: every event type
	queue   chan Event
	handler Handler
	done    chan struct{}
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus is the mower core's in-process event bus.
type Bus struct {
	mu            sync.RWMutex
	subs          map[string]*subscription
	queueSize     int
	criticalTypes map[EventType]bool
	log           *zap.Logger
	metrics       *observability.Metrics

	historyMu   sync.Mutex
	history     []Event
	historyCap  int
	historyHead int
	historyLen  int
}

// defaultHistoryCap is the bounded ring-buffer history size, per spec.md
// §4.3 ("bounded ring-buffered history, default 100").
const defaultHistoryCap = 100

// New creates a Bus. criticalTypes names the event types that bypass
// per-subscriber queues and dispatch synchronously.
func New(queueSize int, criticalTypes []string, log *zap.Logger, metrics *observability.Metrics) *Bus {
	crit := make(map[EventType]bool, len(criticalTypes))
	for _, t := range criticalTypes {
		crit[EventType(t)] = true
	}
	return &Bus{
		subs:          make(map[string]*subscription),
		queueSize:     queueSize,
		criticalTypes: crit,
		log:           log,
		metrics:       metrics,
		history:       make([]Event, defaultHistoryCap),
		historyCap:    defaultHistoryCap,
	}
}

// Subscribe registers a handler under id, filtered to types, and returns
// the event channel the caller should range over in its own goroutine for
// non-critical events. A nil or empty types is a wildcard registration that
// receives every event type, per spec.md §4.3. Critical events are
// delivered directly to handler, not through the channel, so handler must
// be safe to call concurrently with the channel-draining goroutine.
func (b *Bus) Subscribe(id string, types []EventType, handler Handler) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	sub := &subscription{
		id:      id,
		types:   filter,
		queue:   make(chan Event, b.queueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	b.subs[id] = sub
	return sub.queue
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.done)
	close(sub.queue)
}

// Publish dispatches an event to every subscriber. Critical event types
// are delivered synchronously (with panic recovery) before Publish
// returns; all other types are enqueued non-blockingly, dropping on a
// full queue.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	b.appendHistory(evt)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.EventsPublishedTotal.WithLabelValues(string(evt.Type)).Inc()
	}

	critical := b.criticalTypes[evt.Type]

	for id, sub := range b.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		if critical {
			b.dispatchSync(id, sub, evt)
			continue
		}
		select {
		case sub.queue <- evt:
			if b.metrics != nil {
				b.metrics.EventQueueDepth.WithLabelValues(id).Set(float64(len(sub.queue)))
			}
		default:
			if b.metrics != nil {
				b.metrics.EventsDroppedTotal.WithLabelValues(id).Inc()
			}
			if b.log != nil {
				b.log.Debug("event dropped, subscriber queue full",
					zap.String("subscriber", id), zap.String("event_type", string(evt.Type)))
			}
		}
	}
}

// dispatchSync invokes a subscriber's handler inline, recovering any
// panic so one subscriber cannot take down the publisher or its peers.
func (b *Bus) dispatchSync(id string, sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error("event handler panicked",
				zap.String("subscriber", id),
				zap.String("event_type", string(evt.Type)),
				zap.Any("panic", r))
		}
	}()
	if sub.handler != nil {
		sub.handler(evt)
	}
}

// SubscriberCount returns the current number of subscribers, mostly for
// tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// appendHistory writes into the ring buffer, mirroring the state
// machine's audit-trail ring buffer (internal/statemachine).
func (b *Bus) appendHistory(evt Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.history[b.historyHead] = evt
	b.historyHead = (b.historyHead + 1) % b.historyCap
	if b.historyLen < b.historyCap {
		b.historyLen++
	}
}

// History returns the published events in chronological order, oldest
// first. Its length is exactly min(published_count, max_history).
func (b *Bus) History() []Event {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	out := make([]Event, b.historyLen)
	if b.historyLen < b.historyCap {
		copy(out, b.history[:b.historyLen])
		return out
	}
	start := b.historyHead
	for i := 0; i < b.historyCap; i++ {
		out[i] = b.history[(start+i)%b.historyCap]
	}
	return out
}
