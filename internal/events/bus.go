package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of event flowing through the bus.
type EventType string

const (
	EventMeetingUpdate  EventType = "MEETING_UPDATE"
	EventSignalCreated  EventType = "SIGNAL_CREATED"
	EventSignalApproved EventType = "SIGNAL_APPROVED"
	EventSignalRejected EventType = "SIGNAL_REJECTED"
	EventSignalExecuted EventType = "SIGNAL_EXECUTED"
	EventSignalExpired  EventType = "SIGNAL_EXPIRED"
	EventScanProgress   EventType = "SCAN_PROGRESS"
	EventScanCompleted  EventType = "SCAN_COMPLETED"
	EventPriceTrigger   EventType = "PRICE_TRIGGER"
	EventBotStarted     EventType = "BOT_STARTED"
	EventBotStopped     EventType = "BOT_STOPPED"
	EventError          EventType = "ERROR"
)

// Event is one message on the bus.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles events. Each subscriber gets its own delivery goroutine,
// so a slow handler never blocks publishers or other subscribers, and every
// subscriber observes events in publish order.
type Subscriber func(Event)

const subscriberBuffer = 256

type subscription struct {
	types map[EventType]bool // nil means all events
	ch    chan Event
}

func (s *subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// EventBus routes events to subscribers with per-subscriber ordering.
type EventBus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for the given event types. With no types the
// handler receives every event.
func (eb *EventBus) Subscribe(handler Subscriber, types ...EventType) {
	sub := &subscription{ch: make(chan Event, subscriberBuffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.subs = append(eb.subs, sub)
	eb.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			handler(ev)
		}
	}()
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(handler Subscriber) {
	eb.Subscribe(handler)
}

// Publish delivers the event to each interested subscriber's queue. A
// subscriber whose queue is full drops the event rather than stalling the
// publisher.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, sub := range eb.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Close stops delivery and releases subscriber goroutines.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}

// PublishMeetingUpdate reports council deliberation progress for a symbol.
func (eb *EventBus) PublishMeetingUpdate(meetingID, symbol, phase string, round int) {
	eb.Publish(Event{
		Type: EventMeetingUpdate,
		Data: map[string]interface{}{
			"meeting_id": meetingID,
			"symbol":     symbol,
			"phase":      phase,
			"round":      round,
		},
	})
}

// PublishSignalCreated announces a freshly persisted investment signal.
func (eb *EventBus) PublishSignalCreated(signalID, symbol, action string, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalCreated,
		Data: map[string]interface{}{
			"signal_id":  signalID,
			"symbol":     symbol,
			"action":     action,
			"confidence": confidence,
		},
	})
}

// PublishSignalStatus announces a signal transition to a terminal or queued state.
func (eb *EventBus) PublishSignalStatus(t EventType, signalID, symbol, status, reason string) {
	eb.Publish(Event{
		Type: t,
		Data: map[string]interface{}{
			"signal_id": signalID,
			"symbol":    symbol,
			"status":    status,
			"reason":    reason,
		},
	})
}

// PublishScanProgress reports worker-pool progress during a universe scan.
func (eb *EventBus) PublishScanProgress(scanID string, done, total int, symbol string) {
	eb.Publish(Event{
		Type: EventScanProgress,
		Data: map[string]interface{}{
			"scan_id": scanID,
			"done":    done,
			"total":   total,
			"symbol":  symbol,
		},
	})
}

// PublishScanCompleted reports a finished scan with its result count.
func (eb *EventBus) PublishScanCompleted(scanID string, candidates int, elapsed time.Duration) {
	eb.Publish(Event{
		Type: EventScanCompleted,
		Data: map[string]interface{}{
			"scan_id":    scanID,
			"candidates": candidates,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

// PublishPriceTrigger reports a monitoring-loop trigger on a held position.
func (eb *EventBus) PublishPriceTrigger(symbol, trigger string, price int64) {
	eb.Publish(Event{
		Type: EventPriceTrigger,
		Data: map[string]interface{}{
			"symbol":  symbol,
			"trigger": trigger,
			"price":   price,
		},
	})
}

// PublishError reports a component failure.
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
