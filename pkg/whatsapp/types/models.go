package types

import (
	"encoding/json"
	"time"
)

// SessionStatus is the raw WAHA session state
type SessionStatus string

const (
	SessionStatusStopped    SessionStatus = "STOPPED"
	SessionStatusStarting   SessionStatus = "STARTING"
	SessionStatusScanQRCode SessionStatus = "SCAN_QR_CODE"
	SessionStatusWorking    SessionStatus = "WORKING"
	SessionStatusFailed     SessionStatus = "FAILED"
)

// SessionMe identifies the account a WORKING session is logged in as
type SessionMe struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

// SessionEngine describes the browser/engine WAHA runs the session on
type SessionEngine struct {
	Engine string `json:"engine"`
}

// Session represents a WhatsApp session as reported by WAHA
type Session struct {
	Name   string         `json:"name"`
	Status SessionStatus  `json:"status"`
	Me     *SessionMe     `json:"me,omitempty"`
	Engine *SessionEngine `json:"engine,omitempty"`
}

// IsWorking reports whether the session can send messages
func (s *Session) IsWorking() bool {
	return s != nil && s.Status == SessionStatusWorking
}

// WebhookEvent represents a webhook event from WAHA
type WebhookEvent struct {
	ID        string          `json:"id,omitempty"`
	Event     string          `json:"event"`
	Session   string          `json:"session"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Me        *SessionMe      `json:"me,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// SessionStatusPayload is the payload of a session.status event
type SessionStatusPayload struct {
	Name   string        `json:"name,omitempty"`
	Status SessionStatus `json:"status"`
}

// SendMessageRequest represents the request for sending a text message
type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	Session string `json:"session"`
}

// SendMessageResponse represents the response from send message operations
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// MessageKey is the id object WAHA returns for a sent message
type MessageKey struct {
	FromMe     bool   `json:"fromMe"`
	Remote     string `json:"remote"`
	ID         string `json:"id"`
	Serialized string `json:"_serialized"`
}

// WAHAMessageResponse represents the actual WAHA API response format. The
// message id shows up either at the top level or under _data depending on
// the engine.
type WAHAMessageResponse struct {
	Data *struct {
		ID *MessageKey `json:"id"`
	} `json:"_data"`
	ID *MessageKey `json:"id"`
}

// MessageID returns the serialized id from whichever field is populated
func (r *WAHAMessageResponse) MessageID() string {
	if r.ID != nil {
		return firstNonEmpty(r.ID.Serialized, r.ID.ID)
	}
	if r.Data != nil && r.Data.ID != nil {
		return firstNonEmpty(r.Data.ID.Serialized, r.Data.ID.ID)
	}
	return ""
}

// WAHAErrorResponse represents error responses from WAHA API
type WAHAErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// QRCodeResponse is returned by /api/{session}/auth/qr?format=raw
type QRCodeResponse struct {
	Value string `json:"value"`
}

// ServerVersion represents WAHA server version info from /api/server/version
type ServerVersion struct {
	Version string `json:"version"`
	Engine  string `json:"engine"`
	Tier    string `json:"tier"`
	Browser string `json:"browser"`
}

// ClientConfig represents the configuration for WhatsApp client
type ClientConfig struct {
	BaseURL     string        `json:"base_url"`
	APIKey      string        `json:"api_key"`
	SessionName string        `json:"session_name"`
	Timeout     time.Duration `json:"timeout"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
