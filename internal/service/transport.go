package service

import (
	"context"
	"errors"
	"fmt"

	apperrors "whatsrelay/internal/errors"
	"whatsrelay/internal/models"
	"whatsrelay/internal/validation"
	"whatsrelay/pkg/whatsapp"
	"whatsrelay/pkg/whatsapp/types"
)

// Transport delivers formatted text to one destination
type Transport interface {
	Send(ctx context.Context, destination, text string) error
}

// StateStore persists the forwarding config and stats as two records
type StateStore interface {
	// Load returns the persisted state. Missing records come back as defaults
	// with a nil error.
	Load(ctx context.Context) (models.State, error)
	SaveConfig(ctx context.Context, cfg models.ForwardingConfig) error
	SaveStats(ctx context.Context, stats models.ForwardingStats) error
}

// DeliveryRecorder is implemented by stores that keep a delivery log
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, report models.DeliveryReport) error
}

// RecordCleaner is implemented by stores with retention-bound records
type RecordCleaner interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) error
}

// WAHATransport sends through a WAHA session. Destinations are reduced to
// their digits and addressed as direct chats.
type WAHATransport struct {
	client types.WAClient
}

func NewWAHATransport(client types.WAClient) *WAHATransport {
	return &WAHATransport{client: client}
}

func (t *WAHATransport) Send(ctx context.Context, destination, text string) error {
	digits := models.NormalizeDestination(destination)
	if err := validation.ValidatePhoneNumber(digits); err != nil {
		return err
	}

	endpoint := types.APIBase + types.EndpointSendText
	if _, err := t.client.SendText(ctx, whatsapp.ChatID(digits), text); err != nil {
		var apiErr *whatsapp.APIError
		if errors.As(err, &apiErr) {
			return apperrors.NewSendError(endpoint, apiErr.StatusCode, err)
		}
		return apperrors.NewSendError(endpoint, 0, fmt.Errorf("send to WAHA: %w", err))
	}
	return nil
}
