package types

const (
	APIBase          = "/api"
	EndpointSendText = "/sendText"
	EndpointSessions = "/sessions"
	EndpointVersion  = "/server/version"

	// Session sub-resources, appended to /api/sessions/{name}
	EndpointSessionStart   = "/start"
	EndpointSessionStop    = "/stop"
	EndpointSessionRestart = "/restart"

	// QR endpoint is session-scoped: /api/{name}/auth/qr
	EndpointAuthQR = "/auth/qr"

	// ChatSuffix turns a bare number into a direct-chat address
	ChatSuffix = "@c.us"
)

// Webhook event names
const (
	EventSessionStatus = "session.status"
	EventMessage       = "message"
)
