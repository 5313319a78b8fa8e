// Package events is the broadcast-callback hub the dashboard transport
// subscribes to, so the orchestration layer in cmd/spotcore can notify
// internal/api without importing it.
package events

import (
	"sync"
	"time"
)

// EventType is the kind of state change being broadcast.
type EventType string

const (
	EventSignalGenerated    EventType = "SIGNAL_GENERATED"
	EventPositionOpened     EventType = "POSITION_OPENED"
	EventPositionUpdate     EventType = "POSITION_UPDATE"
	EventPositionClosed     EventType = "POSITION_CLOSED"
	EventDecisionEnvelope   EventType = "DECISION_ENVELOPE"
	EventRiskModeChanged    EventType = "RISK_MODE_CHANGED"
	EventTradingModeChanged EventType = "TRADING_MODE_CHANGED"
	EventPriceUpdate        EventType = "PRICE_UPDATE"
	EventError              EventType = "ERROR"
)

// Event is one broadcastable state change.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles one event.
type Subscriber func(Event)

// EventBus fans out published events to subscribers, run in goroutines so
// a slow subscriber never blocks the publisher (the strategy loop and
// close hook in cmd/spotcore, and the admin handlers in internal/api).
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a handler for one event type.
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a handler for every event type, used by the
// dashboard WebSocket hub to relay everything to connected clients.
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish notifies every matching subscriber, asynchronously.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

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

// PublishSignal announces a decision envelope's verdict.
func (eb *EventBus) PublishSignal(symbol, side, verdict, reason string, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"side":       side,
			"verdict":    verdict,
			"reason":     reason,
			"confidence": confidence,
		},
	})
}

// PublishPositionOpened announces a newly opened position.
func (eb *EventBus) PublishPositionOpened(positionID, symbol, side string, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishPositionUpdate announces a mark-to-market refresh.
func (eb *EventBus) PublishPositionUpdate(positionID, symbol string, currentPrice, unrealizedPnL float64) {
	eb.Publish(Event{
		Type: EventPositionUpdate,
		Data: map[string]interface{}{
			"position_id":    positionID,
			"symbol":         symbol,
			"current_price":  currentPrice,
			"unrealized_pnl": unrealizedPnL,
		},
	})
}

// PublishPositionClosed announces a position's final close.
func (eb *EventBus) PublishPositionClosed(positionID, symbol, reason string, closePrice, realizedPnL float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"position_id":  positionID,
			"symbol":       symbol,
			"reason":       reason,
			"close_price":  closePrice,
			"realized_pnl": realizedPnL,
		},
	})
}

// PublishRiskModeChanged announces a risk-engine mode transition.
func (eb *EventBus) PublishRiskModeChanged(mode, reason string) {
	eb.Publish(Event{
		Type: EventRiskModeChanged,
		Data: map[string]interface{}{
			"mode":   mode,
			"reason": reason,
		},
	})
}

// PublishPriceUpdate announces a new last-trade price for a symbol.
func (eb *EventBus) PublishPriceUpdate(symbol string, price float64) {
	eb.Publish(Event{
		Type: EventPriceUpdate,
		Data: map[string]interface{}{
			"symbol": symbol,
			"price":  price,
		},
	})
}

// PublishError announces a routine error for dashboard display.
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}
