package service

import (
	"sync"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// EventType names an observer event
type EventType string

const (
	EventQR                    EventType = "qr"
	EventTransportReady        EventType = "transport_ready"
	EventTransportDisconnected EventType = "transport_disconnected"
	EventAuthFailure           EventType = "auth_failure"
	EventConfigUpdated         EventType = "config_updated"
	EventMessageQueued         EventType = "message_queued"
	EventMessageForwarded      EventType = "message_forwarded"
	EventStatusUpdate          EventType = "status_update"
)

// Event is pushed to observers
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with the current time
func NewEvent(t EventType, data interface{}) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now()}
}

// Notifier receives engine events. Publish must not block.
type Notifier interface {
	Publish(event Event)
}

// NopNotifier discards every event
type NopNotifier struct{}

func (NopNotifier) Publish(Event) {}

// Subscription is one observer attached to a Hub
type Subscription struct {
	id     uint64
	events chan Event
	hub    *Hub
	once   sync.Once
}

// Events returns the channel the subscriber reads from. It is closed when
// the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription from its hub
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

// Hub fans events out to any number of subscribers. Each subscriber has a
// bounded buffer; when it is full the event is dropped for that subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	bufferSize  int
	snapshot    func() models.StatusSnapshot
	collectors  *metrics.Collectors
	logger      *logrus.Logger
}

// NewHub creates a hub; bufferSize <= 0 uses the default
func NewHub(bufferSize int, collectors *metrics.Collectors, logger *logrus.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultSubscriberBufferSize
	}
	return &Hub{
		subscribers: make(map[uint64]*Subscription),
		bufferSize:  bufferSize,
		collectors:  collectors,
		logger:      logger,
	}
}

// SetSnapshotSource sets the function used to greet new subscribers
func (h *Hub) SetSnapshotSource(fn func() models.StatusSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

// Subscribe attaches a new subscriber. If a snapshot source is set, the
// first event received is a status_update.
func (h *Hub) Subscribe() *Subscription {
	h.mu.RLock()
	snapshot := h.snapshot
	h.mu.RUnlock()

	sub := &Subscription{events: make(chan Event, h.bufferSize), hub: h}
	// snapshot() runs without h.mu held
	if snapshot != nil {
		sub.events <- NewEvent(EventStatusUpdate, snapshot())
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.WithField(LogFieldCount, count).Debug("Subscriber attached")
	return sub
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		close(sub.events)
	}
	h.mu.Unlock()
}

// Publish delivers event to every subscriber without blocking
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			h.collectors.IncEventsDropped()
			h.logger.WithFields(logrus.Fields{
				LogFieldEvent: event.Type,
				"subscriber":  id,
			}).Warn("Subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of attached subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close detaches every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.events)
	}
}
