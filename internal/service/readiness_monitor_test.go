package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"whatsrelay/internal/models"
	"whatsrelay/internal/retry"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(client *mockWAClient, opts ReadinessOptions) (*ReadinessMonitor, chan LifecycleSignal) {
	signals := make(chan LifecycleSignal, 16)
	if opts.RestartSettle == 0 {
		opts.RestartSettle = time.Millisecond
	}
	if opts.RestartBackoff.MaxAttempts == 0 {
		opts.RestartBackoff = retry.BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  3,
		}
	}
	return NewReadinessMonitor(client, signals, opts, quietLogger()), signals
}

func nextSignal(t *testing.T, signals <-chan LifecycleSignal) LifecycleSignal {
	t.Helper()
	select {
	case sig := <-signals:
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("no lifecycle signal received")
	}
	return LifecycleSignal{}
}

func workingSession() *types.Session {
	return &types.Session{
		Name:   "default",
		Status: types.SessionStatusWorking,
		Me:     &types.SessionMe{ID: "15550001111@c.us", PushName: "Relay"},
		Engine: &types.SessionEngine{Engine: "WEBJS"},
	}
}

func TestReadinessMonitor_ObserveWorking(t *testing.T) {
	monitor, signals := newTestMonitor(&mockWAClient{}, ReadinessOptions{})

	monitor.Observe(context.Background(), workingSession())

	sig := nextSignal(t, signals)
	assert.Equal(t, SignalReady, sig.Kind)
	require.NotNil(t, sig.Identity)
	assert.Equal(t, models.TransportIdentity{
		DisplayName:   "Relay",
		AddressID:     "15550001111@c.us",
		PlatformLabel: "WAHA/WEBJS",
	}, *sig.Identity)
}

func TestReadinessMonitor_ObserveDeduplicates(t *testing.T) {
	monitor, signals := newTestMonitor(&mockWAClient{}, ReadinessOptions{})

	monitor.Observe(context.Background(), workingSession())
	monitor.Observe(context.Background(), workingSession())
	monitor.Observe(context.Background(), nil)

	nextSignal(t, signals)
	assert.Empty(t, signals)

	monitor.Observe(context.Background(), &types.Session{Status: types.SessionStatusFailed})
	sig := nextSignal(t, signals)
	assert.Equal(t, SignalAuthFailed, sig.Kind)
}

func TestReadinessMonitor_ObserveQRChallenge(t *testing.T) {
	client := &mockWAClient{}
	client.On("GetQRCode", mock.Anything).Return("2@qr-payload", nil).Once()
	monitor, signals := newTestMonitor(client, ReadinessOptions{})

	monitor.Observe(context.Background(), &types.Session{Status: types.SessionStatusScanQRCode})

	sig := nextSignal(t, signals)
	assert.Equal(t, SignalQRChallenge, sig.Kind)
	assert.Equal(t, "2@qr-payload", sig.QR)
	client.AssertExpectations(t)
}

func TestReadinessMonitor_ObserveStoppedAutoStart(t *testing.T) {
	client := &mockWAClient{}
	client.On("StartSession", mock.Anything).Return(nil).Once()
	monitor, signals := newTestMonitor(client, ReadinessOptions{AutoStart: true})

	monitor.Observe(context.Background(), &types.Session{Status: types.SessionStatusStopped})

	sig := nextSignal(t, signals)
	assert.Equal(t, SignalDisconnected, sig.Kind)
	assert.Equal(t, "session stopped", sig.Reason)
	client.AssertExpectations(t)
}

func TestReadinessMonitor_ObserveStoppedWithoutAutoStart(t *testing.T) {
	client := &mockWAClient{}
	monitor, signals := newTestMonitor(client, ReadinessOptions{})

	monitor.Observe(context.Background(), &types.Session{Status: types.SessionStatusStopped})

	assert.Equal(t, SignalDisconnected, nextSignal(t, signals).Kind)
	client.AssertNotCalled(t, "StartSession", mock.Anything)
}

func TestReadinessMonitor_CheckUnreachable(t *testing.T) {
	client := &mockWAClient{}
	client.On("GetSessionStatus", mock.Anything).Return(nil, errors.New("connection refused"))
	monitor, signals := newTestMonitor(client, ReadinessOptions{})

	monitor.Check(context.Background())
	monitor.Check(context.Background())

	sig := nextSignal(t, signals)
	assert.Equal(t, SignalDisconnected, sig.Kind)
	assert.Equal(t, "session UNREACHABLE", sig.Reason)
	assert.Empty(t, signals)
}

func TestReadinessMonitor_CheckWorking(t *testing.T) {
	client := &mockWAClient{}
	client.On("GetSessionStatus", mock.Anything).Return(workingSession(), nil).Once()
	monitor, signals := newTestMonitor(client, ReadinessOptions{})

	monitor.Check(context.Background())

	assert.Equal(t, SignalReady, nextSignal(t, signals).Kind)
	client.AssertExpectations(t)
}

func TestReadinessMonitor_StartPolls(t *testing.T) {
	client := &mockWAClient{}
	client.On("GetSessionStatus", mock.Anything).Return(workingSession(), nil)
	monitor, signals := newTestMonitor(client, ReadinessOptions{
		Interval:         10 * time.Millisecond,
		InitialPollDelay: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	monitor.Start(ctx)

	assert.Equal(t, SignalReady, nextSignal(t, signals).Kind)
	monitor.Stop()
	monitor.Stop()
}

func TestReadinessMonitor_RestartTransportSession(t *testing.T) {
	client := &mockWAClient{}
	release := make(chan struct{})
	client.On("RestartSession", mock.Anything).Return(nil).Once().Run(func(mock.Arguments) {
		<-release
	})
	client.On("WaitForSessionReady", mock.Anything, mock.Anything).Return(nil).Once()
	client.On("GetSessionStatus", mock.Anything).Return(workingSession(), nil).Once()
	monitor, signals := newTestMonitor(client, ReadinessOptions{})

	monitor.Observe(context.Background(), workingSession())
	assert.Equal(t, SignalReady, nextSignal(t, signals).Kind)

	require.NoError(t, monitor.RestartTransportSession(context.Background()))
	sig := nextSignal(t, signals)
	assert.Equal(t, SignalDisconnected, sig.Kind)
	assert.Equal(t, "restart requested", sig.Reason)
	assert.True(t, monitor.Restarting())

	assert.ErrorIs(t, monitor.RestartTransportSession(context.Background()), ErrRestartInProgress)

	close(release)
	assert.Equal(t, SignalReady, nextSignal(t, signals).Kind)
	assert.Eventually(t, func() bool { return !monitor.Restarting() }, 2*time.Second, 5*time.Millisecond)

	monitor.Stop()
	client.AssertExpectations(t)
}

func TestReadinessMonitor_RestartRetries(t *testing.T) {
	client := &mockWAClient{}
	client.On("RestartSession", mock.Anything).Return(errors.New("busy")).Twice()
	client.On("RestartSession", mock.Anything).Return(nil).Once()
	client.On("WaitForSessionReady", mock.Anything, mock.Anything).Return(nil).Once()
	client.On("GetSessionStatus", mock.Anything).Return(workingSession(), nil).Once()
	monitor, signals := newTestMonitor(client, ReadinessOptions{})

	require.NoError(t, monitor.RestartTransportSession(context.Background()))
	assert.Equal(t, SignalDisconnected, nextSignal(t, signals).Kind)
	assert.Equal(t, SignalReady, nextSignal(t, signals).Kind)

	monitor.Stop()
	client.AssertNumberOfCalls(t, "RestartSession", 3)
}

func TestIdentityFromSession(t *testing.T) {
	assert.Nil(t, identityFromSession(&types.Session{Status: types.SessionStatusWorking}))

	identity := identityFromSession(&types.Session{Me: &types.SessionMe{ID: "1@c.us"}})
	require.NotNil(t, identity)
	assert.Equal(t, "WAHA", identity.PlatformLabel)
}
