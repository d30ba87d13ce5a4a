package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleWebSocket streams observer events to a dashboard client. The first
// frame is always a status_update snapshot.
func (s *Server) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Events == nil {
			http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.cfg.Server.AllowedOrigins,
		})
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept websocket")
			return
		}
		defer conn.CloseNow()

		sub := s.deps.Events.Subscribe()
		defer sub.Close()

		// clients only listen; CloseRead handles their control frames
		ctx := conn.CloseRead(r.Context())
		logger := s.logger.WithField(service.LogFieldRemoteIP, r.RemoteAddr)
		logger.Debug("Websocket subscriber connected")

		err = pumpEvents(ctx, conn, sub.Events())
		switch {
		case err == nil:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
			logger.Debug("Websocket subscriber disconnected")
		default:
			logger.WithError(err).Warn("Websocket stream ended")
		}
	}
}

// pumpEvents writes events until the channel closes or a write fails
func pumpEvents(ctx context.Context, conn *websocket.Conn, events <-chan service.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultWebSocketWriteSec)*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
