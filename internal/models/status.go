package models

// TransportIdentity describes the account the transport is logged in as
type TransportIdentity struct {
	DisplayName   string `json:"pushname"`
	AddressID     string `json:"wid"`
	PlatformLabel string `json:"platform"`
}

// StatusSnapshot is the full engine state exposed to status readers and
// late-joining subscribers.
type StatusSnapshot struct {
	TransportReady bool               `json:"whatsappReady"`
	Identity       *TransportIdentity `json:"clientInfo,omitempty"`
	Config         ForwardingConfig   `json:"config"`
	Stats          ForwardingStats    `json:"stats"`
	PendingCount   int                `json:"pendingMessages"`
}

// State is what the state store loads and saves
type State struct {
	Config ForwardingConfig
	Stats  ForwardingStats
}
