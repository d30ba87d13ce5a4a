package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is an inbound text event from a source channel. Treat it as
// immutable once constructed.
type Message struct {
	ID                string    `json:"id"`
	Text              string    `json:"text"`
	SourceChannelName string    `json:"channelName,omitempty"`
	SourceChannelID   string    `json:"channelId,omitempty"`
	ExternalID        string    `json:"messageId,omitempty"`
	ReceivedAt        time.Time `json:"timestamp"`
}

// InboundMessage is the wire shape accepted by the ingestion endpoints
type InboundMessage struct {
	Text        string     `json:"text"`
	ChannelName string     `json:"channelName,omitempty"`
	ChannelID   string     `json:"channelId,omitempty"`
	MessageID   string     `json:"messageId,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// ErrMissingText is returned when an inbound message carries no text
var ErrMissingText = errors.New("text is required")

// NewMessage builds a Message from an inbound event. A missing timestamp
// defaults to now.
func NewMessage(in InboundMessage, now time.Time) (Message, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Message{}, ErrMissingText
	}

	receivedAt := now
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		receivedAt = *in.Timestamp
	}

	return Message{
		ID:                uuid.NewString(),
		Text:              in.Text,
		SourceChannelName: in.ChannelName,
		SourceChannelID:   in.ChannelID,
		ExternalID:        in.MessageID,
		ReceivedAt:        receivedAt,
	}, nil
}
