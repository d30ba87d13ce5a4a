package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"whatsrelay/internal/constants"
	apperrors "whatsrelay/internal/errors"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/middleware"
	"whatsrelay/internal/models"
	"whatsrelay/internal/security"
	"whatsrelay/internal/service"
	"whatsrelay/internal/tracing"
	"whatsrelay/internal/validation"
	"whatsrelay/pkg/whatsapp"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	eventSessionStatus = "session.status"
	maxWebhookBytes    = 1 << 20
)

// ForwardingEngine is the part of service.Engine the HTTP API uses
type ForwardingEngine interface {
	Submit(ctx context.Context, msg models.Message) models.SubmitOutcome
	GetConfig() models.ForwardingConfig
	ReplaceConfig(ctx context.Context, patch models.ConfigPatch) (models.ForwardingConfig, error)
	Status() models.StatusSnapshot
	DestinationDelay() time.Duration
}

// TransportController feeds session state into readiness tracking and
// restarts the session on request
type TransportController interface {
	Observe(ctx context.Context, session *types.Session)
	RestartTransportSession(ctx context.Context) error
}

// EventSource hands out observer subscriptions
type EventSource interface {
	Subscribe() *service.Subscription
}

// DeliveryLog reads the persisted delivery history
type DeliveryLog interface {
	RecentDeliveries(ctx context.Context, limit int) ([]models.DeliveryRecord, error)
	DeliveriesForDestination(ctx context.Context, destination string, limit int) ([]models.DeliveryRecord, error)
}

// ServerDeps are the collaborators behind the HTTP API. DeliveryLog and
// Gatherer may be nil.
type ServerDeps struct {
	Engine      ForwardingEngine
	Transport   TransportController
	Events      EventSource
	DeliveryLog DeliveryLog
	Gatherer    prometheus.Gatherer
	Verbose     bool
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	deps     ServerDeps
	webhooks types.WebhookHandler
	started  time.Time
	server   *http.Server
}

func NewServer(cfg *models.Config, deps ServerDeps, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		deps:     deps,
		webhooks: whatsapp.NewWebhookHandler(),
		started:  time.Now(),
	}
	s.webhooks.RegisterEventHandler(eventSessionStatus, s.onSessionStatus)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if s.deps.Verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/metrics", s.handleMetrics()).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", metrics.NewPrometheusHandler(s.deps.Gatherer)).Methods(http.MethodGet)
	}

	forward := s.router.PathPrefix("/api/forward").Subrouter()
	forward.Use(middleware.IngressObservabilityMiddleware(s.logger, "forward_api"))
	forward.HandleFunc("", s.handleForward()).Methods(http.MethodPost)

	admin := requireAdmin(s.cfg.Server.AdminJWTSecret, s.logger)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", s.handleGetConfig()).Methods(http.MethodGet)
	api.Handle("/config", admin(s.handleUpdateConfig())).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats()).Methods(http.MethodGet)
	api.Handle("/restart-transport", admin(s.handleRestartTransport())).Methods(http.MethodPost)
	api.HandleFunc("/deliveries", s.handleDeliveries()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook/waha").Subrouter()
	webhook.Use(middleware.IngressObservabilityMiddleware(s.logger, "waha_webhook"))
	webhook.HandleFunc("", s.handleWAHAWebhook()).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) requestContext(r *http.Request) context.Context {
	return service.WithVerbose(r.Context(), s.deps.Verbose)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

type forwardResponse struct {
	Success bool                    `json:"success"`
	Outcome models.OutcomeKind      `json:"outcome"`
	Message string                  `json:"message,omitempty"`
	Results []models.DeliveryResult `json:"results,omitempty"`
	Stats   *models.ForwardingStats `json:"stats,omitempty"`
}

func (s *Server) handleForward() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := s.requestContext(r)

		if err := validation.ValidateHTTPRequestSize(r, constants.MaxForwardRequestBytes); err != nil {
			s.writeError(w, r, err)
			return
		}
		body, err := security.VerifySignature(r, s.cfg.Server.ForwardSecret, security.ForwardSignatureHeader)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected forward request with bad signature")
			s.writeError(w, r, apperrors.NewAuthError(err.Error()))
			return
		}

		var in models.InboundMessage
		if err := json.Unmarshal(body, &in); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		if err := validation.ValidateInboundMessage(in); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := models.NewMessage(in, time.Now())
		if err != nil {
			s.writeError(w, r, apperrors.NewValidationError("text", err.Error()))
			return
		}

		// the paced fan-out answers after every destination was attempted
		if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(s.forwardWriteBudget())); err != nil {
			s.logger.WithError(err).Debug("Could not extend write deadline for forward request")
		}

		// delivery outlives a disconnected client
		outcome := s.deps.Engine.Submit(context.WithoutCancel(ctx), msg)
		resp := forwardResponse{Outcome: outcome.Kind}
		status := http.StatusOK
		switch outcome.Kind {
		case models.OutcomeQueued:
			resp.Success = true
			resp.Message = "transport not ready, message queued"
			status = http.StatusAccepted
		case models.OutcomeDisabled:
			resp.Message = "forwarding is disabled"
		case models.OutcomeDelivered:
			resp.Success = true
			resp.Results = outcome.Report.Results
			stats := outcome.Report.Stats
			resp.Stats = &stats
		case models.OutcomeTransportError:
			resp.Message = outcome.Detail
			if outcome.Report != nil {
				resp.Results = outcome.Report.Results
				stats := outcome.Report.Stats
				resp.Stats = &stats
			}
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, resp)
	}
}

// forwardWriteBudget is the server write timeout plus one paced send per
// configured destination
func (s *Server) forwardWriteBudget() time.Duration {
	delay := s.deps.Engine.DestinationDelay()
	if delay < 0 {
		delay = 0
	}
	perDestination := delay + time.Duration(s.cfg.WhatsApp.TimeoutMs)*time.Millisecond
	destinations := len(s.deps.Engine.GetConfig().Destinations)
	return time.Duration(s.cfg.Server.WriteTimeout)*time.Second + time.Duration(destinations)*perDestination
}

func (s *Server) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.deps.Engine.GetConfig())
	}
}

type configResponse struct {
	Success bool                    `json:"success"`
	Config  models.ForwardingConfig `json:"config"`
	Warning string                  `json:"warning,omitempty"`
}

func (s *Server) handleUpdateConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := s.requestContext(r)

		var patch models.ConfigPatch
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&patch); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", fmt.Sprintf("invalid config patch: %v", err)))
			return
		}
		if err := validation.ValidateConfigPatch(patch); err != nil {
			s.writeError(w, r, err)
			return
		}

		s.logger.WithField("admin", adminSubject(ctx)).Info("Forwarding config change requested")
		cfg, err := s.deps.Engine.ReplaceConfig(ctx, patch)
		resp := configResponse{Success: true, Config: cfg}
		if err != nil {
			// the merged config is live even when it could not be saved
			resp.Warning = apperrors.GetUserMessage(err)
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.deps.Engine.Status())
	}
}

type memoryStats struct {
	AllocBytes     uint64 `json:"allocBytes"`
	HeapInuseBytes uint64 `json:"heapInuseBytes"`
	SysBytes       uint64 `json:"sysBytes"`
	NumGC          uint32 `json:"numGC"`
	Goroutines     int    `json:"goroutines"`
}

type statsResponse struct {
	models.ForwardingStats
	UptimeSeconds   float64     `json:"uptime"`
	Memory          memoryStats `json:"memory"`
	PendingMessages int         `json:"pendingMessages"`
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.deps.Engine.Status()

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		s.writeJSON(w, http.StatusOK, statsResponse{
			ForwardingStats: snap.Stats,
			UptimeSeconds:   time.Since(s.started).Seconds(),
			Memory: memoryStats{
				AllocBytes:     mem.Alloc,
				HeapInuseBytes: mem.HeapInuse,
				SysBytes:       mem.Sys,
				NumGC:          mem.NumGC,
				Goroutines:     runtime.NumGoroutine(),
			},
			PendingMessages: snap.PendingCount,
		})
	}
}

func (s *Server) handleRestartTransport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := s.requestContext(r)
		s.logger.WithField("admin", adminSubject(ctx)).Info("Transport restart requested")
		if err := s.deps.Transport.RestartTransportSession(ctx); err != nil {
			if errors.Is(err, service.ErrRestartInProgress) {
				s.writeJSON(w, http.StatusConflict, map[string]interface{}{
					"success": false,
					"message": err.Error(),
				})
				return
			}
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"success": true,
			"message": "transport restart scheduled",
		})
	}
}

func (s *Server) handleDeliveries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.DeliveryLog == nil {
			s.writeJSON(w, http.StatusNotImplemented, map[string]interface{}{
				"success": false,
				"message": "delivery log requires the sqlite storage backend",
			})
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				s.writeError(w, r, apperrors.NewValidationError("limit", "must be a non-negative integer"))
				return
			}
			limit = n
		}

		var (
			records []models.DeliveryRecord
			err     error
		)
		if dest := r.URL.Query().Get("destination"); dest != "" {
			if err := validation.ValidatePhoneNumber(dest); err != nil {
				s.writeError(w, r, err)
				return
			}
			records, err = s.deps.DeliveryLog.DeliveriesForDestination(r.Context(), dest, limit)
		} else {
			records, err = s.deps.DeliveryLog.RecentDeliveries(r.Context(), limit)
		}
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodePersistence, "failed to read delivery log"))
			return
		}
		if records == nil {
			records = []models.DeliveryRecord{}
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"deliveries": records,
			"count":      len(records),
		})
	}
}

func (s *Server) handleWAHAWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := s.requestContext(r)

		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
		body, err := security.VerifySignature(r, s.cfg.WhatsApp.WebhookSecret, security.WAHAHmacHeader)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected WAHA webhook with bad signature")
			s.writeError(w, r, apperrors.NewAuthError(err.Error()))
			return
		}

		var event types.WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid webhook payload"))
			return
		}
		if event.Event != eventSessionStatus {
			s.logger.WithField(service.LogFieldEvent, event.Event).Debug("Ignoring WAHA webhook event")
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := s.webhooks.Handle(ctx, &event); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("payload", err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) onSessionStatus(ctx context.Context, event *types.WebhookEvent) error {
	session, err := whatsapp.ParseSessionStatus(event)
	if err != nil {
		return err
	}
	s.deps.Transport.Observe(ctx, session)
	return nil
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	if err := writeJSONStatus(w, status, v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		apperrors.LogError(s.logger, err, "Request failed", logrus.Fields{service.LogFieldRequestID: requestID})
	}
	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, requestID))
}
