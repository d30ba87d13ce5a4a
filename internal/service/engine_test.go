package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "whatsrelay/internal/errors"
	"whatsrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	destA = "15550001111"
	destB = "15550002222"
)

var testNow = time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)

type engineFixture struct {
	engine    *Engine
	transport *fakeTransport
	store     *memStore
	notifier  *recordingNotifier
	pacer     *recordingPacer
}

func newEngineFixture(t *testing.T, opts EngineOptions) *engineFixture {
	t.Helper()
	f := &engineFixture{
		transport: newFakeTransport(),
		store:     newMemStore(),
		notifier:  &recordingNotifier{},
		pacer:     &recordingPacer{},
	}
	if opts.Pacer == nil {
		opts.Pacer = f.pacer
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return testNow }
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	f.engine = NewEngine(f.transport, f.store, f.notifier, opts, quietLogger())
	t.Cleanup(func() { f.engine.stopDrain(true) })
	return f
}

func (f *engineFixture) setDestinations(t *testing.T, dests ...string) {
	t.Helper()
	_, err := f.engine.ReplaceConfig(context.Background(), models.ConfigPatch{Destinations: &dests})
	require.NoError(t, err)
}

func (f *engineFixture) ready(ctx context.Context) {
	f.engine.HandleSignal(ctx, LifecycleSignal{Kind: SignalReady})
}

func (f *engineFixture) idle() bool {
	f.engine.mu.RLock()
	defer f.engine.mu.RUnlock()
	return !f.engine.draining && f.engine.queue.Len() == 0
}

func newsMessage(text string) models.Message {
	return models.Message{ID: text, Text: text, SourceChannelName: "News"}
}

func TestEngine_SubmitQueuesWhileNotReady(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)

	outcome := f.engine.Submit(context.Background(), newsMessage("hello"))

	assert.Equal(t, models.OutcomeQueued, outcome.Kind)
	assert.Nil(t, outcome.Report)
	assert.Equal(t, 1, f.engine.PendingCount())
	assert.Empty(t, f.transport.Calls())
	assert.Contains(t, f.notifier.Types(), EventMessageQueued)
}

func TestEngine_SubmitDeliversToEveryDestination(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA, destB)
	f.ready(context.Background())

	outcome := f.engine.Submit(context.Background(), newsMessage("hello"))

	require.Equal(t, models.OutcomeDelivered, outcome.Kind)
	require.NotNil(t, outcome.Report)
	assert.Equal(t, 2, outcome.Report.SuccessCount())
	assert.Equal(t, "From: News\n\nhello", outcome.Report.Text)
	assert.Equal(t, []sendCall{
		{Destination: destA, Text: "From: News\n\nhello"},
		{Destination: destB, Text: "From: News\n\nhello"},
	}, f.transport.Calls())

	stats := f.engine.Status().Stats
	assert.Equal(t, int64(2), stats.TotalForwarded)
	assert.Equal(t, int64(2), stats.TodayForwarded)
	assert.Equal(t, int64(0), stats.ErrorCount)
	require.NotNil(t, stats.LastForwardedAt)
	assert.True(t, stats.LastForwardedAt.Equal(testNow))

	assert.Equal(t, stats.TotalForwarded, f.store.Stats().TotalForwarded)
	assert.Len(t, f.store.deliveries, 1)

	event, ok := f.notifier.Last(EventMessageForwarded)
	require.True(t, ok)
	report, ok := event.Data.(models.DeliveryReport)
	require.True(t, ok)
	assert.Len(t, report.Results, 2)
}

func TestEngine_DisabledDropsMessage(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)
	disabled := false
	_, err := f.engine.ReplaceConfig(context.Background(), models.ConfigPatch{Enabled: &disabled})
	require.NoError(t, err)
	f.ready(context.Background())

	outcome := f.engine.Submit(context.Background(), newsMessage("hello"))

	assert.Equal(t, models.OutcomeDisabled, outcome.Kind)
	assert.Empty(t, f.transport.Calls())
	assert.Equal(t, models.ForwardingStats{}, f.engine.Status().Stats)
}

func TestEngine_PartialFailure(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA, destB)
	f.transport.failures[destA] = errors.New("boom")
	f.ready(context.Background())

	outcome := f.engine.Submit(context.Background(), newsMessage("hello"))

	require.Equal(t, models.OutcomeDelivered, outcome.Kind)
	report := outcome.Report
	assert.Equal(t, 1, report.SuccessCount())
	assert.Equal(t, 1, report.FailureCount())
	assert.False(t, report.Results[0].Success)
	assert.Equal(t, "boom", report.Results[0].ErrorDetail)
	assert.True(t, report.Results[1].Success)

	stats := f.engine.Status().Stats
	assert.Equal(t, int64(1), stats.TotalForwarded)
	assert.Equal(t, int64(1), stats.ErrorCount)
}

func TestEngine_AllDestinationsFail(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA, destB)
	f.transport.failures[destA] = errors.New("boom")
	f.transport.failures[destB] = errors.New("boom")
	f.ready(context.Background())

	outcome := f.engine.Submit(context.Background(), newsMessage("hello"))

	require.Equal(t, models.OutcomeDelivered, outcome.Kind)
	assert.Equal(t, 0, outcome.Report.SuccessCount())
	stats := f.engine.Status().Stats
	assert.Equal(t, int64(0), stats.TotalForwarded)
	assert.Equal(t, int64(2), stats.ErrorCount)
	assert.Nil(t, stats.LastForwardedAt)
}

func TestEngine_PacesDestinations(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA, destB)
	f.ready(context.Background())

	f.engine.Submit(context.Background(), newsMessage("hello"))

	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.pacer.Waits())
}

func TestEngine_EmptyDestinations(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.ready(context.Background())

	outcome := f.engine.Submit(context.Background(), newsMessage("hello"))

	require.Equal(t, models.OutcomeDelivered, outcome.Kind)
	assert.Empty(t, outcome.Report.Results)
	assert.Empty(t, f.transport.Calls())
	assert.Empty(t, f.store.deliveries)
}

func TestEngine_DrainsInArrivalOrder(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)

	for _, text := range []string{"A", "B", "C"} {
		assert.Equal(t, models.OutcomeQueued, f.engine.Submit(context.Background(), newsMessage(text)).Kind)
	}
	f.ready(context.Background())

	require.Eventually(t, f.idle, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"From: News\n\nA", "From: News\n\nB", "From: News\n\nC"}, f.transport.Texts())
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second,
		time.Second, 2 * time.Second,
		time.Second,
	}, f.pacer.Waits())
	assert.Equal(t, int64(3), f.engine.Status().Stats.TotalForwarded)
}

func TestEngine_DrainDropsWhenDisabled(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)
	f.engine.Submit(context.Background(), newsMessage("A"))

	disabled := false
	_, err := f.engine.ReplaceConfig(context.Background(), models.ConfigPatch{Enabled: &disabled})
	require.NoError(t, err)
	f.ready(context.Background())

	require.Eventually(t, f.idle, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.transport.Calls())
}

func TestEngine_SubmitDuringDrainQueuesBehind(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)
	f.transport.gate = make(chan struct{})

	f.engine.Submit(context.Background(), newsMessage("A"))
	f.ready(context.Background())

	outcome := f.engine.Submit(context.Background(), newsMessage("B"))
	assert.Equal(t, models.OutcomeQueued, outcome.Kind)

	close(f.transport.gate)
	require.Eventually(t, f.idle, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"From: News\n\nA", "From: News\n\nB"}, f.transport.Texts())

	outcome = f.engine.Submit(context.Background(), newsMessage("C"))
	assert.Equal(t, models.OutcomeDelivered, outcome.Kind)
}

func TestEngine_DisconnectRequeuesUnattempted(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{
		Pacer:            TimerPacer{},
		DestinationDelay: -1,
		MessageDelay:     time.Hour,
	})
	f.setDestinations(t, destA)

	for _, text := range []string{"A", "B", "C"} {
		f.engine.Submit(context.Background(), newsMessage(text))
	}
	f.ready(context.Background())
	require.Eventually(t, func() bool { return len(f.transport.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	f.engine.HandleSignal(context.Background(), LifecycleSignal{Kind: SignalDisconnected, Reason: "test"})

	require.Eventually(t, func() bool {
		f.engine.mu.RLock()
		defer f.engine.mu.RUnlock()
		return !f.engine.draining
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.engine.PendingCount())
	assert.False(t, f.engine.Status().TransportReady)

	f.ready(context.Background())
	require.Eventually(t, func() bool { return len(f.transport.Calls()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"From: News\n\nA", "From: News\n\nB"}, f.transport.Texts())
}

func TestEngine_ReadyTwiceDoesNotRepublish(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.ready(context.Background())
	f.ready(context.Background())

	count := 0
	for _, typ := range f.notifier.Types() {
		if typ == EventTransportReady {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestEngine_NilTransport(t *testing.T) {
	store := newMemStore()
	engine := NewEngine(nil, store, nil, EngineOptions{Pacer: &recordingPacer{}}, quietLogger())
	dests := []string{destA}
	_, err := engine.ReplaceConfig(context.Background(), models.ConfigPatch{Destinations: &dests})
	require.NoError(t, err)
	engine.HandleSignal(context.Background(), LifecycleSignal{Kind: SignalReady})

	outcome := engine.Submit(context.Background(), newsMessage("hello"))

	assert.Equal(t, models.OutcomeTransportError, outcome.Kind)
	assert.NotEmpty(t, outcome.Detail)
	assert.Equal(t, int64(1), engine.Status().Stats.ErrorCount)
}

func TestEngine_CancelledContext(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA, destB)
	f.ready(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := f.engine.Submit(ctx, newsMessage("hello"))

	assert.Equal(t, models.OutcomeTransportError, outcome.Kind)
	assert.Contains(t, outcome.Detail, "0 of 2")
	assert.Empty(t, f.transport.Calls())
	assert.Equal(t, int64(1), f.engine.Status().Stats.ErrorCount)
	assert.Equal(t, int64(1), f.store.Stats().ErrorCount)
}

func TestEngine_ReplaceConfig(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})

	tmpl := "{channel}: {message}"
	dests := []string{destA, "+1 555 000 1111", destB}
	cfg, err := f.engine.ReplaceConfig(context.Background(), models.ConfigPatch{
		Destinations:    &dests,
		MessageTemplate: &tmpl,
	})
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.AppendSourceName)
	assert.Equal(t, []string{destA, destB}, cfg.Destinations)
	require.NotNil(t, cfg.MessageTemplate)
	assert.Equal(t, tmpl, *cfg.MessageTemplate)
	assert.Equal(t, cfg, f.engine.GetConfig())
	assert.Equal(t, cfg, f.store.state.Config)

	_, ok := f.notifier.Last(EventConfigUpdated)
	assert.True(t, ok)
}

func TestEngine_ReplaceConfigSaveFailure(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.store.saveConfigErr = errors.New("disk full")

	enabled := false
	cfg, err := f.engine.ReplaceConfig(context.Background(), models.ConfigPatch{Enabled: &enabled})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersistence))
	assert.False(t, cfg.Enabled)
	assert.False(t, f.engine.GetConfig().Enabled)
}

func TestEngine_ConfigIsolation(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)

	cfg := f.engine.GetConfig()
	cfg.Destinations[0] = "tampered"

	assert.Equal(t, []string{destA}, f.engine.GetConfig().Destinations)
}

func TestEngine_LoadRestoresState(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.store.state = models.State{
		Config: models.ForwardingConfig{Enabled: false, Destinations: []string{destA, destA}},
		Stats:  models.ForwardingStats{TotalForwarded: 9, TodayForwarded: 3, Day: testNow.Format(models.DayLayout)},
	}

	f.engine.Load(context.Background())

	status := f.engine.Status()
	assert.False(t, status.Config.Enabled)
	assert.Equal(t, []string{destA}, status.Config.Destinations)
	assert.Equal(t, int64(3), status.Stats.TodayForwarded)
	assert.Equal(t, 0, f.store.StatsSaves())
}

func TestEngine_LoadRollsOverStaleDay(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.store.state = models.State{
		Config: models.DefaultForwardingConfig(),
		Stats:  models.ForwardingStats{TotalForwarded: 9, TodayForwarded: 3, Day: "2024-03-04"},
	}

	f.engine.Load(context.Background())

	stats := f.engine.Status().Stats
	assert.Equal(t, int64(9), stats.TotalForwarded)
	assert.Equal(t, int64(0), stats.TodayForwarded)
	assert.Equal(t, "2024-03-05", stats.Day)
	assert.Equal(t, 1, f.store.StatsSaves())
}

func TestEngine_LoadFailureKeepsDefaults(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.store.loadErr = errors.New("corrupt")

	f.engine.Load(context.Background())

	assert.Equal(t, models.DefaultForwardingConfig(), f.engine.GetConfig())
	assert.Equal(t, models.ForwardingStats{}, f.engine.Status().Stats)
}

func TestEngine_ResetDailyStats(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)
	f.ready(context.Background())
	f.engine.Submit(context.Background(), newsMessage("hello"))

	require.NoError(t, f.engine.ResetDailyStats(context.Background()))

	stats := f.engine.Status().Stats
	assert.Equal(t, int64(1), stats.TotalForwarded)
	assert.Equal(t, int64(0), stats.TodayForwarded)
	assert.Equal(t, int64(0), f.store.Stats().TodayForwarded)
	_, ok := f.notifier.Last(EventStatusUpdate)
	assert.True(t, ok)
}

func TestEngine_ResetDailyStatsSaveFailure(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.store.saveStatsErr = errors.New("read-only")

	err := f.engine.ResetDailyStats(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersistence))
}

func TestEngine_StatsSaveFailureKeepsDelivering(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)
	f.store.saveStatsErr = errors.New("read-only")
	f.ready(context.Background())

	outcome := f.engine.Submit(context.Background(), newsMessage("hello"))

	assert.Equal(t, models.OutcomeDelivered, outcome.Kind)
	assert.Equal(t, int64(1), f.engine.Status().Stats.TotalForwarded)
}

func TestEngine_Flush(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)

	require.NoError(t, f.engine.Flush(context.Background()))
	assert.Equal(t, 2, f.store.configSaves)

	f.store.saveConfigErr = errors.New("a")
	f.store.saveStatsErr = errors.New("b")
	err := f.engine.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
	assert.Contains(t, err.Error(), "stats")
}

func TestEngine_StatusIdentity(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	identity := &models.TransportIdentity{DisplayName: "Relay", AddressID: "15550001111@c.us", PlatformLabel: "WAHA"}

	f.engine.HandleSignal(context.Background(), LifecycleSignal{Kind: SignalReady, Identity: identity})
	status := f.engine.Status()
	assert.True(t, status.TransportReady)
	require.NotNil(t, status.Identity)
	assert.Equal(t, *identity, *status.Identity)

	f.engine.HandleSignal(context.Background(), LifecycleSignal{Kind: SignalAuthFailed, Reason: "logged out"})
	status = f.engine.Status()
	assert.False(t, status.TransportReady)
	assert.Nil(t, status.Identity)
	assert.Contains(t, f.notifier.Types(), EventAuthFailure)
}

func TestEngine_QRChallengePublishesQR(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.engine.HandleSignal(context.Background(), LifecycleSignal{Kind: SignalQRChallenge, QR: "2@abc"})

	event, ok := f.notifier.Last(EventQR)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"qr": "2@abc"}, event.Data)
}

func TestEngine_BoundedQueueDropsOldest(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{MaxPending: 2})
	f.setDestinations(t, destA)
	for _, text := range []string{"A", "B", "C"} {
		f.engine.Submit(context.Background(), newsMessage(text))
	}
	assert.Equal(t, 2, f.engine.PendingCount())

	f.ready(context.Background())
	require.Eventually(t, f.idle, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"From: News\n\nB", "From: News\n\nC"}, f.transport.Texts())
}

func TestEngine_ConcurrentSubmits(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA, destB)
	f.ready(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.engine.Submit(context.Background(), newsMessage(fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.transport.Calls(), 50)
	assert.Equal(t, int64(50), f.engine.Status().Stats.TotalForwarded)
}

func TestEngine_Run(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA)
	f.engine.Submit(context.Background(), newsMessage("A"))

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan LifecycleSignal)
	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx, signals)
		close(done)
	}()

	signals <- LifecycleSignal{Kind: SignalReady}
	require.Eventually(t, f.idle, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, f.transport.Calls(), 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_TodayCounterFollowsConfiguredZone(t *testing.T) {
	eastern := time.FixedZone("UTC-5", -5*60*60)
	now := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	f := newEngineFixture(t, EngineOptions{
		Location: eastern,
		Clock:    func() time.Time { return now },
	})
	f.setDestinations(t, destA)
	f.ready(context.Background())

	f.engine.Submit(context.Background(), newsMessage("before UTC midnight"))
	now = time.Date(2026, 1, 2, 0, 30, 0, 0, time.UTC)
	f.engine.Submit(context.Background(), newsMessage("after UTC midnight"))

	stats := f.engine.Status().Stats
	assert.Equal(t, int64(2), stats.TotalForwarded)
	assert.Equal(t, int64(2), stats.TodayForwarded)
	assert.Equal(t, "2026-01-01", stats.Day)

	// 00:30 in the configured zone
	now = time.Date(2026, 1, 2, 5, 30, 0, 0, time.UTC)
	f.engine.Submit(context.Background(), newsMessage("next local day"))

	stats = f.engine.Status().Stats
	assert.Equal(t, int64(3), stats.TotalForwarded)
	assert.Equal(t, int64(1), stats.TodayForwarded)
	assert.Equal(t, "2026-01-02", stats.Day)
}

func TestEngine_ResetAndLoadUseConfiguredZone(t *testing.T) {
	eastern := time.FixedZone("UTC-5", -5*60*60)
	// 22:00 on Jan 1 in the configured zone
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, EngineOptions{
		Location: eastern,
		Clock:    func() time.Time { return now },
	})
	f.store.state = models.State{
		Config: models.DefaultForwardingConfig(),
		Stats:  models.ForwardingStats{TotalForwarded: 4, TodayForwarded: 4, Day: "2026-01-01"},
	}

	f.engine.Load(context.Background())
	assert.Equal(t, int64(4), f.engine.Status().Stats.TodayForwarded)
	assert.Equal(t, 0, f.store.StatsSaves())

	require.NoError(t, f.engine.ResetDailyStats(context.Background()))
	assert.Equal(t, "2026-01-01", f.engine.Status().Stats.Day)
}

// cancellingPacer cancels the delivery context on the first wait
type cancellingPacer struct {
	cancel context.CancelFunc
}

func (p *cancellingPacer) Wait(ctx context.Context, d time.Duration) error {
	p.cancel()
	return ctx.Err()
}

func TestEngine_InterruptedFanOutReportsAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newEngineFixture(t, EngineOptions{Pacer: &cancellingPacer{cancel: cancel}})
	f.setDestinations(t, destA, destB)
	f.ready(context.Background())

	outcome := f.engine.Submit(ctx, newsMessage("hello"))

	assert.Equal(t, models.OutcomeTransportError, outcome.Kind)
	assert.Contains(t, outcome.Detail, "1 of 2")
	assert.Contains(t, outcome.Detail, "1 succeeded")
	require.NotNil(t, outcome.Report)
	assert.Equal(t, []models.DeliveryResult{{Destination: destA, Success: true}}, outcome.Report.Results)
	assert.Equal(t, int64(1), outcome.Report.Stats.TotalForwarded)
	assert.Equal(t, int64(1), outcome.Report.Stats.ErrorCount)

	assert.Equal(t, []string{destA}, destinationsOf(f.transport.Calls()))
	f.store.mu.Lock()
	require.Len(t, f.store.deliveries, 1)
	assert.Len(t, f.store.deliveries[0].Results, 1)
	f.store.mu.Unlock()

	event, ok := f.notifier.Last(EventMessageForwarded)
	require.True(t, ok)
	report, ok := event.Data.(models.DeliveryReport)
	require.True(t, ok)
	assert.Equal(t, 1, report.SuccessCount())
}

func TestEngine_SetPacing(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.setDestinations(t, destA, destB)
	f.ready(context.Background())

	f.engine.SetPacing(5*time.Millisecond, -1)
	f.engine.Submit(context.Background(), newsMessage("fast"))
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, f.pacer.Waits())

	f.engine.SetPacing(0, 0)
	pacing := f.engine.pacing()
	assert.Equal(t, time.Second, pacing.destination)
	assert.Equal(t, 2*time.Second, pacing.message)
}

func destinationsOf(calls []sendCall) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Destination)
	}
	return out
}
