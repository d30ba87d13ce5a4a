package service

import (
	"context"
	"sync"
	"time"

	"whatsrelay/internal/models"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type sendCall struct {
	Destination string
	Text        string
}

// fakeTransport records sends and fails the destinations listed in failures
type fakeTransport struct {
	mu       sync.Mutex
	calls    []sendCall
	failures map[string]error
	// gate, when set, blocks every send until a value is received
	gate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failures: make(map[string]error)}
}

func (f *fakeTransport) Send(ctx context.Context, destination, text string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{Destination: destination, Text: text})
	return f.failures[destination]
}

func (f *fakeTransport) Calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sendCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTransport) Texts() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.Text)
	}
	return out
}

// recordingPacer never sleeps and records every requested wait
type recordingPacer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (p *recordingPacer) Wait(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.waits = append(p.waits, d)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *recordingPacer) Waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Duration, len(p.waits))
	copy(out, p.waits)
	return out
}

// memStore is an in-memory StateStore and DeliveryRecorder
type memStore struct {
	mu            sync.Mutex
	state         models.State
	loadErr       error
	saveConfigErr error
	saveStatsErr  error
	configSaves   int
	statsSaves    int
	deliveries    []models.DeliveryReport
}

func newMemStore() *memStore {
	return &memStore{state: models.State{Config: models.DefaultForwardingConfig()}}
}

func (s *memStore) Load(ctx context.Context) (models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return models.State{}, s.loadErr
	}
	return models.State{Config: s.state.Config.Clone(), Stats: s.state.Stats.Clone()}, nil
}

func (s *memStore) SaveConfig(ctx context.Context, cfg models.ForwardingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveConfigErr != nil {
		return s.saveConfigErr
	}
	s.configSaves++
	s.state.Config = cfg.Clone()
	return nil
}

func (s *memStore) SaveStats(ctx context.Context, stats models.ForwardingStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveStatsErr != nil {
		return s.saveStatsErr
	}
	s.statsSaves++
	s.state.Stats = stats.Clone()
	return nil
}

func (s *memStore) RecordDelivery(ctx context.Context, report models.DeliveryReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, report)
	return nil
}

func (s *memStore) Stats() models.ForwardingStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Stats.Clone()
}

func (s *memStore) StatsSaves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsSaves
}

// recordingNotifier keeps every published event
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []EventType
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

func (n *recordingNotifier) Last(t EventType) (Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].Type == t {
			return n.events[i], true
		}
	}
	return Event{}, false
}

// mockWAClient is a testify mock of the WAHA client
type mockWAClient struct {
	mock.Mock
}

func (m *mockWAClient) SendText(ctx context.Context, chatID, message string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockWAClient) StartSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockWAClient) StopSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockWAClient) RestartSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockWAClient) GetSessionStatus(ctx context.Context) (*types.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Session), args.Error(1)
}

func (m *mockWAClient) GetQRCode(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockWAClient) WaitForSessionReady(ctx context.Context, maxWaitTime time.Duration) error {
	return m.Called(ctx, maxWaitTime).Error(0)
}

func (m *mockWAClient) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockWAClient) GetSessionName() string {
	return "default"
}

type mockResetter struct {
	mock.Mock
}

func (m *mockResetter) ResetDailyStats(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	return m.Called(ctx, retentionDays).Error(0)
}
