package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// ErrSessionNotReady is returned by WaitForSessionReady on timeout
var ErrSessionNotReady = errors.New("session did not become ready in time")

func (c *WhatsAppClient) GetSessionStatus(ctx context.Context) (*types.Session, error) {
	body, err := c.do(ctx, http.MethodGet, c.sessionPath(""), nil)
	if err != nil {
		return nil, err
	}

	var session types.Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if session.Name == "" {
		session.Name = c.sessionName
	}
	return &session, nil
}

func (c *WhatsAppClient) StartSession(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, c.sessionPath(types.EndpointSessionStart), nil)
	return err
}

func (c *WhatsAppClient) StopSession(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, c.sessionPath(types.EndpointSessionStop), nil)
	return err
}

func (c *WhatsAppClient) RestartSession(ctx context.Context) error {
	c.logger.WithField("session", c.sessionName).Info("Restarting WhatsApp session")
	_, err := c.do(ctx, http.MethodPost, c.sessionPath(types.EndpointSessionRestart), nil)
	return err
}

// GetQRCode returns the raw QR value for a session waiting in SCAN_QR_CODE
func (c *WhatsAppClient) GetQRCode(ctx context.Context) (string, error) {
	endpoint := types.APIBase + "/" + url.PathEscape(c.sessionName) + types.EndpointAuthQR + "?format=raw"
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	var qr types.QRCodeResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return "", fmt.Errorf("failed to decode QR response: %w", err)
	}
	return qr.Value, nil
}

// WaitForSessionReady polls the session until it is WORKING or maxWaitTime passes
func (c *WhatsAppClient) WaitForSessionReady(ctx context.Context, maxWaitTime time.Duration) error {
	if maxWaitTime <= 0 {
		maxWaitTime = time.Duration(constants.DefaultSessionWaitTimeoutSec) * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, maxWaitTime)
	defer cancel()

	interval := time.Duration(constants.DefaultSessionPollIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		session, err := c.GetSessionStatus(waitCtx)
		if err == nil && session.IsWorking() {
			return nil
		}
		if err != nil {
			c.logger.WithError(err).Debug("Session status poll failed")
		} else {
			c.logger.WithFields(logrus.Fields{
				"session": c.sessionName,
				"status":  session.Status,
			}).Debug("Waiting for session to become ready")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w after %s", ErrSessionNotReady, maxWaitTime)
		case <-ticker.C:
		}
	}
}
