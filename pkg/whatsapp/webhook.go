package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"whatsrelay/pkg/whatsapp/types"
)

type webhookHandler struct {
	handlers map[string]func(context.Context, *types.WebhookEvent) error
	mu       sync.RWMutex
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler() types.WebhookHandler {
	return &webhookHandler{
		handlers: make(map[string]func(context.Context, *types.WebhookEvent) error),
	}
}

func (wh *webhookHandler) Handle(ctx context.Context, event *types.WebhookEvent) error {
	wh.mu.RLock()
	handler, exists := wh.handlers[event.Event]
	wh.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for event type: %s", event.Event)
	}

	return handler(ctx, event)
}

func (wh *webhookHandler) RegisterEventHandler(eventType string, handler func(context.Context, *types.WebhookEvent) error) {
	wh.mu.Lock()
	defer wh.mu.Unlock()

	wh.handlers[eventType] = handler
}

// ParseSessionStatus decodes the payload of a session.status event
func ParseSessionStatus(event *types.WebhookEvent) (*types.Session, error) {
	var payload types.SessionStatusPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session status payload: %w", err)
	}
	if payload.Status == "" {
		return nil, fmt.Errorf("session status payload has no status")
	}
	name := payload.Name
	if name == "" {
		name = event.Session
	}
	return &types.Session{Name: name, Status: payload.Status, Me: event.Me}, nil
}
