package events

import (
	"context"
	"sync"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/logger"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/ports"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// LoggingPublisher emits pipeline events using the structured logger and
// forwards them to subscribers.
type LoggingPublisher struct {
	logger *logger.Logger
	subs   map[string][]subscriptionEntry
	nextID int
	mu     sync.RWMutex
}

// NewLoggingPublisher creates an event publisher that writes each event as a
// debug-level log entry.
func NewLoggingPublisher(log *logger.Logger) *LoggingPublisher {
	return &LoggingPublisher{
		logger: log,
		subs:   make(map[string][]subscriptionEntry),
	}
}

// Publish logs the event and runs the matching handlers in subscription order.
func (p *LoggingPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if p == nil || event == nil {
		return nil
	}

	p.mu.RLock()
	handlers := append([]subscriptionEntry(nil), p.subs[event.EventType()]...)
	handlers = append(handlers, p.subs[Wildcard]...)
	p.mu.RUnlock()

	fields := map[string]any{"event_type": event.EventType()}
	switch payload := event.Payload().(type) {
	case map[string]interface{}:
		for key, value := range payload {
			fields[key] = value
		}
	case nil:
	default:
		fields["payload"] = payload
	}
	p.logger.WithFields(fields).Debug("pipeline event")

	for _, entry := range handlers {
		if entry.handler == nil {
			continue
		}
		if err := entry.handler(ctx, event); err != nil {
			p.logger.WithFields(map[string]any{"event_type": event.EventType()}).Error(err, "event handler failed")
		}
	}

	return nil
}

// Subscribe registers a handler for the provided event type, or for every
// type when eventType is Wildcard.
func (p *LoggingPublisher) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	if p == nil || handler == nil {
		return noopSubscription{}, nil
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[eventType] = append(p.subs[eventType], subscriptionEntry{id: id, handler: handler})
	p.mu.Unlock()

	return subscription{
		cancel: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			handlers := p.subs[eventType]
			for i, entry := range handlers {
				if entry.id == id {
					p.subs[eventType] = append(handlers[:i], handlers[i+1:]...)
					break
				}
			}
		},
	}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type subscription struct {
	cancel func()
}

func (s subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriptionEntry struct {
	id      int
	handler ports.EventHandler
}
