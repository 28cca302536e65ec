package service

import (
	"context"
	"sync"

	"wadesk/internal/metrics"
	"wadesk/internal/models"

	"github.com/sirupsen/logrus"
)

// EventHandler processes one decoded webhook envelope.
type EventHandler func(ctx context.Context, env *models.WebhookEnvelope) error

// Router dispatches webhook envelopes by normalized event name. Unhandled
// events are acknowledged and dropped; the gateway retries deliveries that
// are not answered with 2xx, so unknown events must never fail the request.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
	logger   *logrus.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *logrus.Logger) *Router {
	return &Router{
		handlers: make(map[string]EventHandler),
		logger:   logger,
	}
}

// Handle registers a handler for a normalized event name, replacing any
// previous registration.
func (r *Router) Handle(event string, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[models.NormalizeEventName(event)] = handler
}

// Dispatch routes the envelope to its handler. A missing handler is a logged
// no-op, not an error.
func (r *Router) Dispatch(ctx context.Context, env *models.WebhookEnvelope) error {
	event := models.NormalizeEventName(env.Event)

	r.mu.RLock()
	handler, ok := r.handlers[event]
	r.mu.RUnlock()

	if !ok {
		r.logger.WithFields(logrus.Fields{
			LogFieldEvent:    event,
			LogFieldInstance: env.Instance,
		}).Debug("No handler registered for event, ignoring")
		metrics.IncrementCounter("webhook_events_ignored_total", map[string]string{
			"event": event,
		}, "Webhook events with no registered handler")
		return nil
	}

	metrics.IncrementCounter("webhook_events_total", map[string]string{
		"event": event,
	}, "Dispatched webhook events")
	return handler(ctx, env)
}
