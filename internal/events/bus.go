package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventStructureBreak    EventType = "STRUCTURE_BREAK"
	EventChangeOfCharacter EventType = "CHANGE_OF_CHARACTER"
	EventLiquiditySweep    EventType = "LIQUIDITY_SWEEP"
	EventSnapshotUpdated   EventType = "SNAPSHOT_UPDATED"
	EventPositionSized     EventType = "POSITION_SIZED"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its
// own goroutine so a slow one cannot stall the analysis loop.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishBreak publishes a confirmed BOS or CHoCH.
func (eb *EventBus) PublishBreak(symbol, timeframe, kind, direction string, level float64, barTime time.Time) {
	t := EventStructureBreak
	if kind == "CHoCH" {
		t = EventChangeOfCharacter
	}
	eb.Publish(Event{
		Type: t,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
			"kind":      kind,
			"direction": direction,
			"level":     level,
			"bar_time":  barTime,
		},
	})
}

// PublishSweep publishes a liquidity sweep.
func (eb *EventBus) PublishSweep(symbol, timeframe, anticipated string, sweptLevel float64, barTime time.Time) {
	eb.Publish(Event{
		Type: EventLiquiditySweep,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"timeframe":   timeframe,
			"anticipated": anticipated,
			"swept_level": sweptLevel,
			"bar_time":    barTime,
		},
	})
}

// PublishSnapshot announces a refreshed snapshot.
func (eb *EventBus) PublishSnapshot(symbol, timeframe, trend string, events int) {
	eb.Publish(Event{
		Type: EventSnapshotUpdated,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
			"trend":     trend,
			"events":    events,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}
