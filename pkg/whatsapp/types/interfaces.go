package types

import (
	"context"
	"time"
)

// WAClient is the subset of the WAHA API the relay drives
type WAClient interface {
	SendText(ctx context.Context, chatID, message string) (*SendMessageResponse, error)
	StartSession(ctx context.Context) error
	StopSession(ctx context.Context) error
	RestartSession(ctx context.Context) error
	GetSessionStatus(ctx context.Context) (*Session, error)
	GetQRCode(ctx context.Context) (string, error)
	WaitForSessionReady(ctx context.Context, maxWaitTime time.Duration) error
	HealthCheck(ctx context.Context) error
	GetSessionName() string
}

// WebhookHandler dispatches WAHA webhook events by event name
type WebhookHandler interface {
	Handle(ctx context.Context, event *WebhookEvent) error
	RegisterEventHandler(eventType string, handler func(context.Context, *WebhookEvent) error)
}
