package service

import (
	"context"
	"sync"
	"time"

	"whatsrelay/internal/constants"

	"github.com/sirupsen/logrus"
)

// DailyResetter resets the per-day counters
type DailyResetter interface {
	ResetDailyStats(ctx context.Context) error
}

// Scheduler resets the today counter at every local midnight and, when a
// cleaner is set, prunes old delivery records on a fixed interval.
type Scheduler struct {
	resetter      DailyResetter
	cleaner       RecordCleaner
	retentionDays int
	intervalHours int
	loc           *time.Location
	now           func() time.Time
	logger        *logrus.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewScheduler creates a scheduler. cleaner may be nil.
func NewScheduler(resetter DailyResetter, cleaner RecordCleaner, retentionDays, intervalHours int, loc *time.Location, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHrs
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		resetter:      resetter,
		cleaner:       cleaner,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		loc:           loc,
		now:           time.Now,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler")

	midnight := time.NewTimer(s.untilMidnight())
	defer midnight.Stop()

	var cleanupC <-chan time.Time
	if s.cleaner != nil {
		ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
		defer ticker.Stop()
		cleanupC = ticker.C
		s.runCleanup(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-midnight.C:
			s.runReset(ctx)
			midnight.Reset(s.untilMidnight())
		case <-cleanupC:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// untilMidnight returns the time left until the next local midnight
func (s *Scheduler) untilMidnight() time.Duration {
	now := s.now().In(s.loc)
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, s.loc)
	return next.Sub(now)
}

func (s *Scheduler) runReset(ctx context.Context) {
	if err := s.resetter.ResetDailyStats(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to persist daily stats reset")
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled cleanup")

	if err := s.cleaner.CleanupOldRecords(ctx, s.retentionDays); err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
	} else {
		s.logger.Info("Successfully completed cleanup")
	}
}
