package realtime

import (
	"fmt"
	"sync"

	"wadesk/internal/constants"
	"wadesk/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Event is a single fan-out notification. Topic is empty for global events.
type Event struct {
	Event   string      `json:"event"`
	Topic   string      `json:"topic,omitempty"`
	Payload interface{} `json:"payload"`
}

// ConversationTopic names the per-conversation fan-out topic.
func ConversationTopic(conversationID int64) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// Subscriber is one attached consumer. Every subscriber receives global
// events; topic events are delivered only to subscribers joined to the topic.
type Subscriber struct {
	hub    *Hub
	ch     chan Event
	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
}

// Events returns the delivery channel. It is closed when the subscriber
// detaches from the hub.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Join subscribes to a topic. Joining twice is a no-op.
func (s *Subscriber) Join(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = struct{}{}
}

// Leave unsubscribes from a topic.
func (s *Subscriber) Leave(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

func (s *Subscriber) joined(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

// deliver pushes an event without blocking. A subscriber that cannot keep up
// loses events rather than stalling the publisher. The lock is held through
// the send so the channel cannot be closed mid-delivery.
func (s *Subscriber) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- evt:
	default:
		metrics.IncrementCounter("realtime_dropped_events_total", map[string]string{
			"event": evt.Event,
		}, "Events dropped due to slow subscribers")
	}
}

// Hub fans events out to attached subscribers. It holds no global state; the
// owning process constructs one and hands it to every publisher.
type Hub struct {
	logger      *logrus.Logger
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	closed      bool
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe attaches a new subscriber, optionally pre-joined to topics.
func (h *Hub) Subscribe(topics ...string) *Subscriber {
	sub := &Subscriber{
		hub:    h,
		ch:     make(chan Event, constants.DefaultSessionBufferSize),
		topics: make(map[string]struct{}, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	h.subscribers[sub] = struct{}{}
	metrics.SetGauge("realtime_subscribers", float64(len(h.subscribers)), nil, "Attached realtime subscribers")
	return sub
}

// Unsubscribe detaches the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	metrics.SetGauge("realtime_subscribers", float64(len(h.subscribers)), nil, "Attached realtime subscribers")

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	close(sub.ch)
}

// PublishTopic delivers an event to subscribers joined to the topic.
// Publishing never blocks on slow consumers.
func (h *Hub) PublishTopic(topic, event string, payload interface{}) {
	evt := Event{Event: event, Topic: topic, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		if sub.joined(topic) {
			sub.deliver(evt)
		}
	}
	metrics.IncrementCounter("realtime_events_total", map[string]string{
		"event": event,
		"scope": "topic",
	}, "Published realtime events")
}

// PublishGlobal delivers an event to every subscriber.
func (h *Hub) PublishGlobal(event string, payload interface{}) {
	evt := Event{Event: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		sub.deliver(evt)
	}
	metrics.IncrementCounter("realtime_events_total", map[string]string{
		"event": event,
		"scope": "global",
	}, "Published realtime events")
}

// Close detaches every subscriber. Further publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		close(sub.ch)
		delete(h.subscribers, sub)
	}
}
