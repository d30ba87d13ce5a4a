package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// APIError is returned when WAHA answers with a non-success status
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("WAHA %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("WAHA %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// WhatsAppClient talks to a WAHA server for a single session
type WhatsAppClient struct {
	baseURL     string
	apiKey      string
	sessionName string
	client      *http.Client
	logger      *logrus.Logger
}

// NewClient creates a WAHA client. A zero timeout falls back to the default.
func NewClient(config types.ClientConfig) types.WAClient {
	return NewClientWithLogger(config, logrus.New())
}

// NewClientWithLogger creates a WAHA client that logs through logger
func NewClientWithLogger(config types.ClientConfig, logger *logrus.Logger) *WhatsAppClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultWhatsAppTimeoutMs) * time.Millisecond
	}
	sessionName := config.SessionName
	if sessionName == "" {
		sessionName = constants.DefaultSessionName
	}
	return &WhatsAppClient{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		sessionName: sessionName,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

func (c *WhatsAppClient) GetSessionName() string {
	return c.sessionName
}

// ChatID turns a bare phone number into a WAHA direct-chat id
func ChatID(number string) string {
	if strings.Contains(number, "@") {
		return number
	}
	return number + types.ChatSuffix
}

func (c *WhatsAppClient) SendText(ctx context.Context, chatID, message string) (*types.SendMessageResponse, error) {
	payload := types.SendMessageRequest{
		ChatID:  ChatID(chatID),
		Text:    message,
		Session: c.sessionName,
	}

	body, err := c.do(ctx, http.MethodPost, types.APIBase+types.EndpointSendText, payload)
	if err != nil {
		return nil, err
	}

	resp := &types.SendMessageResponse{Status: "sent"}
	// WAHA sometimes answers 201 with an empty body
	if len(bytes.TrimSpace(body)) == 0 {
		return resp, nil
	}

	var wahaResp types.WAHAMessageResponse
	if err := json.Unmarshal(body, &wahaResp); err != nil {
		c.logger.WithError(err).Debug("Unrecognized sendText response body")
		return resp, nil
	}
	resp.MessageID = wahaResp.MessageID()
	return resp, nil
}

// do sends a JSON request and returns the response body for 2xx answers
func (c *WhatsAppClient) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxWAHAResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
	return body, nil
}

func (c *WhatsAppClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

func errorMessage(body []byte) string {
	var errResp types.WAHAErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// HealthCheck verifies WAHA is reachable. A 404 for the session still proves
// the API answers, so only 5xx and auth failures are reported.
func (c *WhatsAppClient) HealthCheck(ctx context.Context) error {
	endpoint := c.sessionPath("")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("WhatsApp API health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("WhatsApp API health check returned status %d", resp.StatusCode)
}

// ServerVersion fetches the WAHA server version
func (c *WhatsAppClient) ServerVersion(ctx context.Context) (*types.ServerVersion, error) {
	body, err := c.do(ctx, http.MethodGet, types.APIBase+types.EndpointVersion, nil)
	if err != nil {
		return nil, err
	}
	var version types.ServerVersion
	if err := json.Unmarshal(body, &version); err != nil {
		return nil, fmt.Errorf("failed to decode server version: %w", err)
	}
	return &version, nil
}

func (c *WhatsAppClient) sessionPath(suffix string) string {
	return types.APIBase + types.EndpointSessions + "/" + url.PathEscape(c.sessionName) + suffix
}
