package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/models"
	"whatsrelay/internal/retry"
	"whatsrelay/pkg/circuitbreaker"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// ErrRestartInProgress is returned when a transport restart is already running
var ErrRestartInProgress = errors.New("transport restart already in progress")

// statusUnreachable is the pseudo status recorded when WAHA cannot be polled
const statusUnreachable types.SessionStatus = "UNREACHABLE"

// ReadinessOptions tunes a ReadinessMonitor
type ReadinessOptions struct {
	Interval         time.Duration
	AutoStart        bool
	RestartSettle    time.Duration
	SessionWait      time.Duration
	BreakerFailures  uint32
	BreakerReset     time.Duration
	RestartBackoff   retry.BackoffConfig
	InitialPollDelay time.Duration
}

// ReadinessMonitor watches the WAHA session and turns its status into
// lifecycle signals. Signals are only emitted when the observed state changes.
type ReadinessMonitor struct {
	client  types.WAClient
	breaker *circuitbreaker.CircuitBreaker
	signals chan<- LifecycleSignal
	opts    ReadinessOptions
	logger  *logrus.Logger

	mu         sync.Mutex
	lastKey    string
	running    bool
	stopCh     chan struct{}
	restarting atomic.Bool
	restartWG  sync.WaitGroup
}

// NewReadinessMonitor creates a monitor that sends signals on the given channel
func NewReadinessMonitor(client types.WAClient, signals chan<- LifecycleSignal, opts ReadinessOptions, logger *logrus.Logger) *ReadinessMonitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Duration(constants.DefaultStatusPollSec) * time.Second
	}
	if opts.RestartSettle <= 0 {
		opts.RestartSettle = time.Duration(constants.DefaultRestartSettleMs) * time.Millisecond
	}
	if opts.SessionWait <= 0 {
		opts.SessionWait = time.Duration(constants.DefaultSessionWaitTimeoutSec) * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = constants.DefaultMonitorBreakerFailures
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = time.Duration(constants.DefaultMonitorBreakerResetSec) * time.Second
	}
	if opts.RestartBackoff.MaxAttempts == 0 {
		opts.RestartBackoff = retry.DefaultBackoffConfig()
		opts.RestartBackoff.MaxAttempts = 3
	}
	if opts.InitialPollDelay <= 0 {
		opts.InitialPollDelay = time.Duration(constants.DefaultMonitorInitDelaySec) * time.Second
	}

	breaker := circuitbreaker.NewWithSettings(circuitbreaker.Settings{
		Name:         "waha-" + client.GetSessionName(),
		MaxFailures:  opts.BreakerFailures,
		ResetTimeout: opts.BreakerReset,
	}, logger)

	return &ReadinessMonitor{
		client:  client,
		breaker: breaker,
		signals: signals,
		opts:    opts,
		logger:  logger,
	}
}

// Start begins polling the session in the background
func (m *ReadinessMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("Readiness monitor is already running")
		return
	}
	m.stopCh = make(chan struct{})
	m.running = true
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.monitorLoop(ctx, stopCh)
	m.logger.WithField(LogFieldSession, m.client.GetSessionName()).Info("Readiness monitor started")
}

// Stop stops polling and waits for a running restart to finish
func (m *ReadinessMonitor) Stop() {
	m.mu.Lock()
	if m.running {
		close(m.stopCh)
		m.running = false
		m.logger.Info("Readiness monitor stopped")
	}
	m.mu.Unlock()
	m.restartWG.Wait()
}

func (m *ReadinessMonitor) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	initDelay := time.NewTimer(m.opts.InitialPollDelay)
	defer initDelay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-stopCh:
		return
	case <-initDelay.C:
	}

	m.Check(ctx)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check polls the session once and emits a signal if its state changed
func (m *ReadinessMonitor) Check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultWhatsAppTimeoutMs)*time.Millisecond)
	defer cancel()

	var session *types.Session
	err := m.breaker.Execute(checkCtx, func(ctx context.Context) error {
		s, err := m.client.GetSessionStatus(ctx)
		session = s
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fields := logrus.Fields{LogFieldSession: m.client.GetSessionName()}
		if circuitbreaker.IsCircuitBreakerError(err) {
			m.logger.WithFields(fields).Debug("Skipping session poll: circuit open")
		} else {
			m.logger.WithError(err).WithFields(fields).Warn("Failed to get session status")
		}
		m.Observe(ctx, &types.Session{Name: m.client.GetSessionName(), Status: statusUnreachable})
		return
	}

	m.Observe(ctx, session)
}

// Observe maps a session state to a lifecycle signal. It is fed by the poller
// and by session.status webhooks.
func (m *ReadinessMonitor) Observe(ctx context.Context, session *types.Session) {
	if session == nil {
		return
	}

	var sig LifecycleSignal
	key := string(session.Status)

	switch session.Status {
	case types.SessionStatusWorking:
		sig = LifecycleSignal{Kind: SignalReady, Identity: identityFromSession(session)}
		if session.Me != nil {
			key += "|" + session.Me.ID
		}
	case types.SessionStatusScanQRCode:
		qr, err := m.fetchQR(ctx)
		if err != nil {
			m.logger.WithError(err).Warn("Failed to fetch QR code")
		}
		sig = LifecycleSignal{Kind: SignalQRChallenge, QR: qr}
		key += "|" + qr
	case types.SessionStatusFailed:
		sig = LifecycleSignal{Kind: SignalAuthFailed, Reason: "session failed"}
	case types.SessionStatusStopped:
		sig = LifecycleSignal{Kind: SignalDisconnected, Reason: "session stopped"}
		if m.opts.AutoStart {
			m.startSession(ctx)
		}
	default:
		sig = LifecycleSignal{Kind: SignalDisconnected, Reason: "session " + string(session.Status)}
	}

	m.mu.Lock()
	changed := m.lastKey != key
	m.lastKey = key
	m.mu.Unlock()
	if !changed {
		return
	}

	m.logger.WithFields(logrus.Fields{
		LogFieldSession: session.Name,
		"status":        session.Status,
		LogFieldSignal:  sig.Kind,
	}).Info("Session state changed")
	m.emit(ctx, sig)
}

func (m *ReadinessMonitor) emit(ctx context.Context, sig LifecycleSignal) {
	select {
	case m.signals <- sig:
	case <-ctx.Done():
		m.logger.WithField(LogFieldSignal, sig.Kind).Debug("Dropped lifecycle signal on shutdown")
	}
}

func (m *ReadinessMonitor) fetchQR(ctx context.Context) (string, error) {
	var qr string
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		value, err := m.client.GetQRCode(ctx)
		qr = value
		return err
	})
	return qr, err
}

func (m *ReadinessMonitor) startSession(ctx context.Context) {
	err := m.breaker.Execute(ctx, m.client.StartSession)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to start stopped session")
		return
	}
	m.logger.WithField(LogFieldSession, m.client.GetSessionName()).Info("Started stopped session")
}

// RestartTransportSession tears the session down and brings it back in the
// background. It returns as soon as the restart is scheduled; readiness is
// reported later through the signal channel.
func (m *ReadinessMonitor) RestartTransportSession(ctx context.Context) error {
	if !m.restarting.CompareAndSwap(false, true) {
		return ErrRestartInProgress
	}

	m.mu.Lock()
	m.lastKey = ""
	m.mu.Unlock()
	m.emit(ctx, LifecycleSignal{Kind: SignalDisconnected, Reason: "restart requested"})

	bg := context.WithoutCancel(ctx)
	m.restartWG.Add(1)
	go func() {
		defer m.restartWG.Done()
		defer m.restarting.Store(false)
		m.restartSession(bg)
	}()
	return nil
}

// Restarting reports whether a restart is running
func (m *ReadinessMonitor) Restarting() bool {
	return m.restarting.Load()
}

func (m *ReadinessMonitor) restartSession(ctx context.Context) {
	start := time.Now()
	logger := m.logger.WithField(LogFieldSession, m.client.GetSessionName())

	settle := time.NewTimer(m.opts.RestartSettle)
	select {
	case <-ctx.Done():
		settle.Stop()
		return
	case <-settle.C:
	}

	restartTimeout := time.Duration(constants.DefaultSessionRestartTimeout)*time.Second + m.opts.SessionWait
	restartCtx, cancel := context.WithTimeout(ctx, restartTimeout)
	defer cancel()

	backoff := retry.NewBackoff(m.opts.RestartBackoff).OnRetry(func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WithFields(logrus.Fields{
			LogFieldAttempt: attempt,
			"delay_ms":      delay.Milliseconds(),
		}).Warn("Session restart failed, retrying")
	})
	err := backoff.Retry(restartCtx, func() error {
		return m.breaker.Execute(restartCtx, m.client.RestartSession)
	})
	if err != nil {
		logger.WithError(err).Error("Failed to restart session")
		m.Check(ctx)
		return
	}

	if err := m.client.WaitForSessionReady(restartCtx, m.opts.SessionWait); err != nil {
		logger.WithError(err).Warn("Session not ready after restart")
	} else {
		logger.WithField(LogFieldDuration, time.Since(start).Milliseconds()).Info("Session restart completed")
	}
	m.Check(ctx)
}

func identityFromSession(session *types.Session) *models.TransportIdentity {
	if session.Me == nil {
		return nil
	}
	platform := "WAHA"
	if session.Engine != nil && session.Engine.Engine != "" {
		platform = "WAHA/" + session.Engine.Engine
	}
	return &models.TransportIdentity{
		DisplayName:   session.Me.PushName,
		AddressID:     session.Me.ID,
		PlatformLabel: platform,
	}
}
