package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"whatsrelay/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey  = "test-api-key"
	testSession = "test-session"
)

// fakeWAHA is a minimal WAHA server for a single session
type fakeWAHA struct {
	status       atomic.Value // string
	sendStatus   int
	lastSendBody types.SendMessageRequest
	restarts     atomic.Int32
}

func newFakeWAHA(t *testing.T, status string) (*fakeWAHA, *httptest.Server) {
	f := &fakeWAHA{sendStatus: http.StatusCreated}
	f.status.Store(status)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/sendText":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastSendBody))
			w.WriteHeader(f.sendStatus)
			if f.sendStatus < 300 {
				_, _ = w.Write([]byte(`{"id":{"fromMe":true,"remote":"10000000001@c.us","id":"ABC","_serialized":"true_10000000001@c.us_ABC"}}`))
			} else {
				_, _ = w.Write([]byte(`{"error":"send failed"}`))
			}
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/"+testSession:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"name":   testSession,
				"status": f.status.Load().(string),
				"me":     map[string]string{"id": "10000000009@c.us", "pushName": "Relay Bot"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions/"+testSession+"/restart":
			f.restarts.Add(1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions/"+testSession+"/start",
			r.Method == http.MethodPost && r.URL.Path == "/api/sessions/"+testSession+"/stop":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/api/"+testSession+"/auth/qr":
			assert.Equal(t, "raw", r.URL.Query().Get("format"))
			_, _ = w.Write([]byte(`{"value":"2@qr-payload"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/server/version":
			_, _ = w.Write([]byte(`{"version":"2024.10.1","engine":"WEBJS","tier":"CORE"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return f, server
}

func newTestClient(server *httptest.Server) *WhatsAppClient {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewClientWithLogger(types.ClientConfig{
		BaseURL:     server.URL + "/",
		APIKey:      testAPIKey,
		SessionName: testSession,
		Timeout:     5 * time.Second,
	}, logger)
}

func TestClient_SendText(t *testing.T) {
	fake, server := newFakeWAHA(t, "WORKING")
	defer server.Close()
	client := newTestClient(server)

	resp, err := client.SendText(context.Background(), "10000000001", "Hello, World!")
	require.NoError(t, err)
	assert.Equal(t, "sent", resp.Status)
	assert.Equal(t, "true_10000000001@c.us_ABC", resp.MessageID)
	assert.Equal(t, types.SendMessageRequest{
		ChatID:  "10000000001@c.us",
		Text:    "Hello, World!",
		Session: testSession,
	}, fake.lastSendBody)
}

func TestClient_SendText_KeepsFullChatID(t *testing.T) {
	fake, server := newFakeWAHA(t, "WORKING")
	defer server.Close()

	_, err := newTestClient(server).SendText(context.Background(), "10000000001@c.us", "hi")
	require.NoError(t, err)
	assert.Equal(t, "10000000001@c.us", fake.lastSendBody.ChatID)
}

func TestClient_SendText_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	resp, err := newTestClient(server).SendText(context.Background(), "10000000001", "hi")
	require.NoError(t, err)
	assert.Equal(t, "sent", resp.Status)
	assert.Empty(t, resp.MessageID)
}

func TestClient_SendText_StatusCodes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		expectError bool
	}{
		{"ok", http.StatusOK, false},
		{"created", http.StatusCreated, false},
		{"bad request", http.StatusBadRequest, true},
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, server := newFakeWAHA(t, "WORKING")
			defer server.Close()
			fake.sendStatus = tt.status

			_, err := newTestClient(server).SendText(context.Background(), "10000000001", "hi")
			if !tt.expectError {
				assert.NoError(t, err)
				return
			}
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "send failed", apiErr.Message)
			assert.Contains(t, err.Error(), "/api/sendText")
		})
	}
}

func TestClient_Authentication(t *testing.T) {
	_, server := newFakeWAHA(t, "WORKING")
	defer server.Close()

	client := newTestClient(server)
	client.apiKey = "wrong"

	_, err := client.GetSessionStatus(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid api key", apiErr.Message)
}

func TestClient_SessionLifecycle(t *testing.T) {
	fake, server := newFakeWAHA(t, "WORKING")
	defer server.Close()
	client := newTestClient(server)
	ctx := context.Background()

	session, err := client.GetSessionStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusWorking, session.Status)
	assert.True(t, session.IsWorking())
	require.NotNil(t, session.Me)
	assert.Equal(t, "Relay Bot", session.Me.PushName)

	require.NoError(t, client.StartSession(ctx))
	require.NoError(t, client.StopSession(ctx))
	require.NoError(t, client.RestartSession(ctx))
	assert.Equal(t, int32(1), fake.restarts.Load())
	assert.Equal(t, testSession, client.GetSessionName())
}

func TestClient_GetQRCode(t *testing.T) {
	_, server := newFakeWAHA(t, "SCAN_QR_CODE")
	defer server.Close()

	qr, err := newTestClient(server).GetQRCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2@qr-payload", qr)
}

func TestClient_ServerVersion(t *testing.T) {
	_, server := newFakeWAHA(t, "WORKING")
	defer server.Close()

	version, err := newTestClient(server).ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024.10.1", version.Version)
	assert.Equal(t, "WEBJS", version.Engine)
}

func TestClient_WaitForSessionReady(t *testing.T) {
	t.Run("ready immediately", func(t *testing.T) {
		_, server := newFakeWAHA(t, "WORKING")
		defer server.Close()
		assert.NoError(t, newTestClient(server).WaitForSessionReady(context.Background(), time.Second))
	})

	t.Run("times out while starting", func(t *testing.T) {
		_, server := newFakeWAHA(t, "STARTING")
		defer server.Close()
		err := newTestClient(server).WaitForSessionReady(context.Background(), 100*time.Millisecond)
		assert.ErrorIs(t, err, ErrSessionNotReady)
	})

	t.Run("parent context cancelled", func(t *testing.T) {
		_, server := newFakeWAHA(t, "STARTING")
		defer server.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := newTestClient(server).WaitForSessionReady(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWhatsAppClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		expectError bool
	}{
		{"working", http.StatusOK, false},
		{"session missing is reachable", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
		{"unauthorized", http.StatusUnauthorized, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/sessions/"+testSession, r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			err := newTestClient(server).HealthCheck(context.Background())
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "WhatsApp API health check returned status")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWhatsAppClient_HealthCheck_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClientWithLogger(types.ClientConfig{BaseURL: url, SessionName: testSession, Timeout: 100 * time.Millisecond}, logrus.New())
	err := client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WhatsApp API health check failed")
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(types.ClientConfig{BaseURL: "http://waha:3000"}).(*WhatsAppClient)
	assert.Equal(t, "default", client.GetSessionName())
	assert.Equal(t, 30*time.Second, client.client.Timeout)
}

func TestChatID(t *testing.T) {
	assert.Equal(t, "10000000001@c.us", ChatID("10000000001"))
	assert.Equal(t, "120363@g.us", ChatID("120363@g.us"))
}
