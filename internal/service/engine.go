package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsrelay/internal/constants"
	apperrors "whatsrelay/internal/errors"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/models"
	"whatsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// SignalKind is one of the transport lifecycle signals
type SignalKind string

const (
	SignalReady        SignalKind = "ready"
	SignalDisconnected SignalKind = "disconnected"
	SignalAuthFailed   SignalKind = "auth_failed"
	SignalQRChallenge  SignalKind = "qr_challenge"
)

// LifecycleSignal tells the engine what happened to the transport session
type LifecycleSignal struct {
	Kind SignalKind
	// Identity is set for SignalReady when known
	Identity *models.TransportIdentity
	// QR is the challenge payload for SignalQRChallenge
	QR string
	// Reason describes disconnects and auth failures
	Reason string
}

// EngineOptions tunes an Engine. Zero delays fall back to the defaults;
// negative delays disable pacing.
type EngineOptions struct {
	DestinationDelay time.Duration
	MessageDelay     time.Duration
	MaxPending       int
	Location         *time.Location
	Pacer            Pacer
	Collectors       *metrics.Collectors
	Clock            func() time.Time
}

// Engine accepts messages, buffers them while the transport is not ready and
// fans them out to the configured destinations with pacing.
type Engine struct {
	transport  Transport
	store      StateStore
	notifier   Notifier
	formatter  *Formatter
	queue      *PendingQueue
	pacer      Pacer
	collectors *metrics.Collectors
	logger     *logrus.Logger
	now        func() time.Time
	// loc is the zone whose midnight starts a new day for the today counter
	loc        *time.Location

	// mu guards the fields below
	mu               sync.RWMutex
	destinationDelay time.Duration
	messageDelay     time.Duration
	config           models.ForwardingConfig
	stats            models.ForwardingStats
	ready            bool
	identity         *models.TransportIdentity
	draining         bool
	drainCancel      context.CancelFunc
	drainDone        chan struct{}

	// deliveryMu serialises format, send loop and stats persistence
	deliveryMu sync.Mutex
}

// NewEngine creates an engine with default config and zeroed stats. Call Load
// to restore persisted state. transport may be nil, in which case every
// delivery ends in a transport error.
func NewEngine(transport Transport, store StateStore, notifier Notifier, opts EngineOptions, logger *logrus.Logger) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.Pacer == nil {
		opts.Pacer = TimerPacer{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	formatter := NewFormatter(opts.Location)
	formatter.now = opts.Clock

	return &Engine{
		transport:        transport,
		store:            store,
		notifier:         notifier,
		formatter:        formatter,
		queue:            NewPendingQueue(opts.MaxPending),
		pacer:            opts.Pacer,
		collectors:       opts.Collectors,
		logger:           logger,
		now:              opts.Clock,
		loc:              opts.Location,
		destinationDelay: destinationDelayOrDefault(opts.DestinationDelay),
		messageDelay:     messageDelayOrDefault(opts.MessageDelay),
		config:           models.DefaultForwardingConfig(),
	}
}

// Load restores config and stats from the store. A failed load is logged and
// the engine keeps its defaults. A today counter left over from an earlier
// day is reset and saved.
func (e *Engine) Load(ctx context.Context) {
	if e.store == nil {
		return
	}

	state, err := e.store.Load(ctx)
	if err != nil {
		apperrors.LogWarn(e.logger, err, "Failed to load forwarding state, using defaults")
		return
	}

	e.mu.Lock()
	e.config = state.Config.Normalized()
	e.stats = state.Stats.Clone()
	rolled := e.stats.RollOver(e.localNow())
	stats := e.stats.Clone()
	e.mu.Unlock()

	if rolled {
		e.logger.Info("Today counter belonged to an earlier day, reset on load")
		e.saveStats(ctx, stats)
	}
}

// Run consumes lifecycle signals until ctx is done or signals is closed. Any
// drain in progress is stopped and waited for before Run returns.
func (e *Engine) Run(ctx context.Context, signals <-chan LifecycleSignal) {
	defer e.stopDrain(true)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			e.HandleSignal(ctx, sig)
		}
	}
}

// HandleSignal applies one lifecycle signal. A drain started by SignalReady
// lives until ctx is done or the transport disconnects.
func (e *Engine) HandleSignal(ctx context.Context, sig LifecycleSignal) {
	logger := e.logger.WithField(LogFieldSignal, sig.Kind)

	switch sig.Kind {
	case SignalReady:
		e.mu.Lock()
		wasReady := e.ready
		e.ready = true
		if sig.Identity != nil {
			identity := *sig.Identity
			e.identity = &identity
		}
		// a cancelled drain may still hold messages it has not requeued yet
		var startDrain bool
		if wasReady {
			startDrain = !e.draining && e.queue.Len() > 0
		} else {
			startDrain = e.draining || e.queue.Len() > 0
		}
		if startDrain {
			e.startDrainLocked(ctx)
		}
		identity := e.identity
		pending := e.queue.Len()
		e.mu.Unlock()

		e.collectors.SetTransportReady(true)
		if !wasReady {
			logger.WithField(LogFieldPending, pending).Info("Transport ready")
			e.notifier.Publish(NewEvent(EventTransportReady, identity))
		}

	case SignalDisconnected, SignalAuthFailed, SignalQRChallenge:
		e.mu.Lock()
		wasReady := e.ready
		e.ready = false
		e.identity = nil
		if e.drainCancel != nil {
			e.drainCancel()
		}
		e.mu.Unlock()
		e.collectors.SetTransportReady(false)

		switch sig.Kind {
		case SignalDisconnected:
			if wasReady {
				logger.WithField("reason", sig.Reason).Warn("Transport disconnected")
			}
			e.notifier.Publish(NewEvent(EventTransportDisconnected, map[string]string{"reason": sig.Reason}))
		case SignalAuthFailed:
			apperrors.LogError(logger, apperrors.NewAuthFailureError(sig.Reason), "Transport authentication failed")
			e.notifier.Publish(NewEvent(EventAuthFailure, map[string]string{"reason": sig.Reason}))
		case SignalQRChallenge:
			logger.Info("Transport waiting for QR code scan")
			e.notifier.Publish(NewEvent(EventQR, map[string]string{"qr": sig.QR}))
		}

	default:
		logger.Warn("Ignoring unknown lifecycle signal")
	}
}

// startDrainLocked launches a drain goroutine. A previous drain, if any, is
// cancelled and the new one waits for it to finish first. e.mu must be held.
func (e *Engine) startDrainLocked(ctx context.Context) {
	if e.drainCancel != nil {
		e.drainCancel()
	}
	drainCtx, cancel := context.WithCancel(ctx)
	prev := e.drainDone
	done := make(chan struct{})

	e.drainCancel = cancel
	e.drainDone = done
	e.draining = true

	go e.drain(ctx, drainCtx, prev, done)
}

// stopDrain cancels the current drain and optionally waits for it
func (e *Engine) stopDrain(wait bool) {
	e.mu.Lock()
	if e.drainCancel != nil {
		e.drainCancel()
	}
	done := e.drainDone
	e.mu.Unlock()

	if wait && done != nil {
		<-done
	}
}

// drain delivers queued messages in arrival order until the queue is empty.
// Messages submitted meanwhile are queued behind the current batch and picked
// up by the next pass. On cancellation the unattempted rest of the batch goes
// back to the head of the queue.
func (e *Engine) drain(ctx, drainCtx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	started := e.now()
	delivered := 0
	first := true

	for {
		e.mu.Lock()
		if drainCtx.Err() != nil || !e.ready {
			e.finishDrainLocked(done)
			e.mu.Unlock()
			e.logger.WithFields(logrus.Fields{
				LogFieldCount:   delivered,
				LogFieldPending: e.queue.Len(),
			}).Info("Drain stopped")
			return
		}
		batch := e.queue.DrainAll()
		if len(batch) == 0 {
			e.finishDrainLocked(done)
			e.mu.Unlock()
			if delivered > 0 {
				e.logger.WithFields(logrus.Fields{
					LogFieldCount:    delivered,
					LogFieldDuration: e.now().Sub(started).Milliseconds(),
				}).Info("Drain completed")
			}
			e.collectors.SetPending(0)
			return
		}
		e.mu.Unlock()

		e.logger.WithField(LogFieldCount, len(batch)).Info("Starting drain of pending messages")

		for i, msg := range batch {
			if !first {
				if err := e.pacer.Wait(drainCtx, e.pacing().message); err != nil {
					e.queue.Requeue(batch[i:])
					break
				}
			}
			if drainCtx.Err() != nil {
				e.queue.Requeue(batch[i:])
				break
			}
			first = false

			outcome := e.deliver(ctx, msg)
			delivered++
			e.collectors.ObserveSubmission(string(outcome.Kind))
			e.logOutcome(ctx, msg, outcome, "drain")
		}
		e.collectors.SetPending(e.queue.Len())
	}
}

// finishDrainLocked clears the draining state if done belongs to the current drain
func (e *Engine) finishDrainLocked(done chan struct{}) {
	if e.drainDone == done {
		e.draining = false
		if e.drainCancel != nil {
			e.drainCancel()
			e.drainCancel = nil
		}
	}
}

// Submit hands a message to the engine. It never returns an error: every
// failure is reported as an outcome.
func (e *Engine) Submit(ctx context.Context, msg models.Message) (outcome models.SubmitOutcome) {
	ctx, span := tracing.StartSpan(ctx, "engine.submit",
		tracing.AttrMessageID.String(msg.ID),
		tracing.AttrChannel.String(msg.SourceChannelName),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(messageFields(ctx, msg.ID, msg.SourceChannelName, msg.ExternalID)).
				WithField("panic", r).Error("Recovered from panic while forwarding")
			e.recordTransportFailure()
			outcome = models.TransportError(fmt.Sprintf("internal error: %v", r))
		}
		e.collectors.ObserveSubmission(string(outcome.Kind))
		tracing.AddSpanAttributes(ctx, tracing.AttrOutcome.String(string(outcome.Kind)))
		if outcome.Kind == models.OutcomeTransportError {
			tracing.SetSpanStatus(ctx, codes.Error, outcome.Detail)
		}
	}()

	e.mu.Lock()
	if !e.ready || e.draining {
		evicted := e.queue.Enqueue(msg)
		pending := e.queue.Len()
		e.mu.Unlock()

		if evicted != nil {
			e.logger.WithFields(messageFields(ctx, evicted.ID, evicted.SourceChannelName, evicted.ExternalID)).
				Warn("Pending queue full, dropped oldest message")
		}
		e.collectors.SetPending(pending)
		tracing.AddSpanAttributes(ctx, tracing.AttrPending.Int(pending))
		e.logger.WithFields(messageFields(ctx, msg.ID, msg.SourceChannelName, msg.ExternalID)).
			WithField(LogFieldPending, pending).Info("Transport not ready, message queued")
		e.notifier.Publish(NewEvent(EventMessageQueued, map[string]interface{}{
			"messageId":       msg.ID,
			"pendingMessages": pending,
		}))
		return models.Queued()
	}
	e.mu.Unlock()

	outcome = e.deliver(ctx, msg)
	e.logOutcome(ctx, msg, outcome, "live")
	return outcome
}

// deliver runs the format, send loop, persist sequence for one message
func (e *Engine) deliver(ctx context.Context, msg models.Message) models.SubmitOutcome {
	e.deliveryMu.Lock()
	defer e.deliveryMu.Unlock()

	cfg := e.GetConfig()
	if !cfg.Enabled {
		return models.Disabled()
	}
	if e.transport == nil {
		e.recordTransportFailure()
		return models.TransportError(apperrors.NewTransportUnavailableError("no transport adapter configured").Error())
	}

	text := e.formatter.Format(msg, cfg)
	e.logger.WithFields(messageFields(ctx, msg.ID, msg.SourceChannelName, msg.ExternalID)).
		WithField(LogFieldContent, SanitizeContent(ctx, text)).
		WithField(LogFieldDestinations, len(cfg.Destinations)).
		Debug("Forwarding message")
	destinationDelay := e.pacing().destination
	results := make([]models.DeliveryResult, 0, len(cfg.Destinations))
	var interrupted error

	for _, dest := range cfg.Destinations {
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}

		start := time.Now()
		err := e.transport.Send(ctx, dest, text)
		elapsed := time.Since(start)

		e.mu.Lock()
		if err == nil {
			e.stats.RecordSuccess(e.localNow())
		} else {
			e.stats.RecordFailure()
		}
		e.mu.Unlock()
		e.collectors.ObserveSend(err == nil, elapsed)

		fields := logrus.Fields{
			LogFieldMessageID:   msg.ID,
			LogFieldDestination: SanitizeDestination(ctx, dest),
			LogFieldDuration:    elapsed.Milliseconds(),
		}
		result := models.DeliveryResult{Destination: dest, Success: err == nil}
		if err != nil {
			result.ErrorDetail = err.Error()
			apperrors.LogWarn(e.logger, err, "Failed to send to destination", fields)
		} else {
			e.logger.WithFields(fields).Debug("Sent to destination")
		}
		results = append(results, result)

		if err := e.pacer.Wait(ctx, destinationDelay); err != nil && len(results) < len(cfg.Destinations) {
			interrupted = err
			break
		}
	}

	// persistence must survive cancellation of the caller
	persistCtx := context.WithoutCancel(ctx)

	if interrupted != nil {
		e.mu.Lock()
		e.stats.RecordFailure()
		stats := e.stats.Clone()
		e.mu.Unlock()
		e.saveStats(persistCtx, stats)

		report := models.DeliveryReport{Message: msg, Text: text, Results: results, Stats: stats}
		detail := fmt.Sprintf("delivery interrupted after %d of %d destinations (%d succeeded): %v",
			len(results), len(cfg.Destinations), report.SuccessCount(), interrupted)
		if len(results) == 0 {
			return models.TransportError(detail)
		}
		e.recordDelivery(persistCtx, report)
		e.notifier.Publish(NewEvent(EventMessageForwarded, report))
		return models.InterruptedDelivery(report, detail)
	}

	e.mu.RLock()
	stats := e.stats.Clone()
	e.mu.RUnlock()
	e.saveStats(persistCtx, stats)

	report := models.DeliveryReport{
		Message: msg,
		Text:    text,
		Results: results,
		Stats:   stats,
	}

	if len(results) > 0 {
		e.recordDelivery(persistCtx, report)
	}

	tracing.AddSpanAttributes(ctx,
		tracing.AttrDestinations.Int(len(results)),
		tracing.AttrFailures.Int(report.FailureCount()),
	)
	e.notifier.Publish(NewEvent(EventMessageForwarded, report))
	return models.Delivered(report)
}

// recordDelivery appends the report to the delivery log when the store keeps one
func (e *Engine) recordDelivery(ctx context.Context, report models.DeliveryReport) {
	recorder, ok := e.store.(DeliveryRecorder)
	if !ok {
		return
	}
	if err := recorder.RecordDelivery(ctx, report); err != nil {
		apperrors.LogWarn(e.logger, err, "Failed to record delivery log", logrus.Fields{LogFieldMessageID: report.Message.ID})
	}
}

func (e *Engine) localNow() time.Time {
	return e.now().In(e.loc)
}

type pacing struct {
	destination time.Duration
	message     time.Duration
}

func (e *Engine) pacing() pacing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return pacing{destination: e.destinationDelay, message: e.messageDelay}
}

// DestinationDelay is the current pause after each destination send
func (e *Engine) DestinationDelay() time.Duration {
	return e.pacing().destination
}

// SetPacing replaces the delays used by later sends. Zero restores the
// default and a negative value disables the delay.
func (e *Engine) SetPacing(destinationDelay, messageDelay time.Duration) {
	e.mu.Lock()
	e.destinationDelay = destinationDelayOrDefault(destinationDelay)
	e.messageDelay = messageDelayOrDefault(messageDelay)
	e.mu.Unlock()
}

func destinationDelayOrDefault(d time.Duration) time.Duration {
	if d == 0 {
		return time.Duration(constants.DefaultDestinationDelayMs) * time.Millisecond
	}
	return d
}

func messageDelayOrDefault(d time.Duration) time.Duration {
	if d == 0 {
		return time.Duration(constants.DefaultMessageDelayMs) * time.Millisecond
	}
	return d
}

func (e *Engine) recordTransportFailure() {
	e.mu.Lock()
	e.stats.RecordFailure()
	e.mu.Unlock()
}

func (e *Engine) logOutcome(ctx context.Context, msg models.Message, outcome models.SubmitOutcome, path string) {
	entry := e.logger.WithFields(messageFields(ctx, msg.ID, msg.SourceChannelName, msg.ExternalID)).
		WithFields(logrus.Fields{
			LogFieldOutcome:   outcome.Kind,
			LogFieldOperation: path,
		})

	switch outcome.Kind {
	case models.OutcomeDelivered:
		report := outcome.Report
		entry = entry.WithFields(logrus.Fields{
			LogFieldDestinations: len(report.Results),
			LogFieldSucceeded:    report.SuccessCount(),
			LogFieldFailed:       report.FailureCount(),
		})
		if len(report.Results) > 0 && report.SuccessCount() == 0 {
			entry.Error("Message could not be delivered to any destination")
			return
		}
		entry.Info("Message forwarded")
	case models.OutcomeDisabled:
		entry.Info("Forwarding disabled, message dropped")
	case models.OutcomeTransportError:
		if report := outcome.Report; report != nil {
			entry = entry.WithFields(logrus.Fields{
				LogFieldDestinations: len(report.Results),
				LogFieldSucceeded:    report.SuccessCount(),
				LogFieldFailed:       report.FailureCount(),
			})
		}
		entry.WithField("detail", outcome.Detail).Error("Failed to forward message")
	}
}

// GetConfig returns a copy of the current forwarding config
func (e *Engine) GetConfig() models.ForwardingConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.Clone()
}

// ReplaceConfig shallow-merges patch into the config and persists it. The
// merged config is kept in memory even when saving fails, in which case a
// persistence error is returned alongside it.
func (e *Engine) ReplaceConfig(ctx context.Context, patch models.ConfigPatch) (models.ForwardingConfig, error) {
	e.mu.Lock()
	e.config = e.config.Apply(patch)
	cfg := e.config.Clone()
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"enabled":            cfg.Enabled,
		LogFieldDestinations: len(cfg.Destinations),
		"source_channels":    len(cfg.SourceChannels),
		"template":           cfg.MessageTemplate != nil,
	}).Info("Forwarding config updated")
	e.notifier.Publish(NewEvent(EventConfigUpdated, cfg))

	if e.store == nil {
		return cfg, nil
	}
	if err := e.store.SaveConfig(ctx, cfg); err != nil {
		persistErr := apperrors.NewPersistenceError("config", err)
		apperrors.LogWarn(e.logger, persistErr, "Failed to save forwarding config")
		return cfg, persistErr
	}
	return cfg, nil
}

// Status returns a snapshot of the engine state
func (e *Engine) Status() models.StatusSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var identity *models.TransportIdentity
	if e.identity != nil {
		id := *e.identity
		identity = &id
	}
	return models.StatusSnapshot{
		TransportReady: e.ready,
		Identity:       identity,
		Config:         e.config.Clone(),
		Stats:          e.stats.Clone(),
		PendingCount:   e.queue.Len(),
	}
}

// ResetDailyStats zeroes the today counter and persists the stats
func (e *Engine) ResetDailyStats(ctx context.Context) error {
	e.mu.Lock()
	previous := e.stats.TodayForwarded
	e.stats.ResetToday(e.localNow())
	stats := e.stats.Clone()
	e.mu.Unlock()

	e.logger.WithField("previous_today", previous).Info("Daily forwarding counter reset")
	e.notifier.Publish(NewEvent(EventStatusUpdate, e.Status()))
	return e.saveStats(ctx, stats)
}

// Flush saves config and stats synchronously
func (e *Engine) Flush(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.mu.RLock()
	cfg := e.config.Clone()
	stats := e.stats.Clone()
	e.mu.RUnlock()

	var errs []error
	if err := e.store.SaveConfig(ctx, cfg); err != nil {
		errs = append(errs, apperrors.NewPersistenceError("config", err))
	}
	if err := e.store.SaveStats(ctx, stats); err != nil {
		errs = append(errs, apperrors.NewPersistenceError("stats", err))
	}
	return errors.Join(errs...)
}

// PendingCount returns the number of queued messages
func (e *Engine) PendingCount() int {
	return e.queue.Len()
}

func (e *Engine) saveStats(ctx context.Context, stats models.ForwardingStats) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveStats(ctx, stats); err != nil {
		persistErr := apperrors.NewPersistenceError("stats", err)
		apperrors.LogWarn(e.logger, persistErr, "Failed to save forwarding stats")
		return persistErr
	}
	return nil
}
