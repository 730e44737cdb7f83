package service

import (
	"context"
	"sync"
	"time"

	"wadispatch/internal/constants"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// LogCleaner deletes message logs older than the retention window.
type LogCleaner interface {
	CleanupOldMessageLogs(ctx context.Context, retentionDays int) (int64, error)
}

// RetentionScheduler purges old message logs on a cron schedule.
type RetentionScheduler struct {
	cleaner       LogCleaner
	retentionDays int
	schedule      string
	location      *time.Location
	logger        *logrus.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewRetentionScheduler(cleaner LogCleaner, retentionDays int, schedule string, loc *time.Location, logger *logrus.Logger) *RetentionScheduler {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if schedule == "" {
		schedule = constants.DefaultRetentionSchedule
	}
	if loc == nil {
		loc = time.Local
	}
	return &RetentionScheduler{
		cleaner:       cleaner,
		retentionDays: retentionDays,
		schedule:      schedule,
		location:      loc,
		logger:        logger,
	}
}

var retentionParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a schedule the scheduler accepts.
func ValidateSchedule(expr string) error {
	_, err := retentionParser.Parse(expr)
	return err
}

// Start runs one cleanup immediately and registers the recurring job.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New(cron.WithParser(retentionParser), cron.WithLocation(s.location))
	if _, err := c.AddFunc(s.schedule, func() { s.RunCleanup(ctx) }); err != nil {
		return err
	}
	s.c = c

	s.logger.WithFields(logrus.Fields{
		"schedule":      s.schedule,
		"retentionDays": s.retentionDays,
	}).Info("Starting retention scheduler")

	go s.RunCleanup(ctx)
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running cleanup to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("Retention scheduler stopped")
}

// RunCleanup deletes expired message logs once.
func (s *RetentionScheduler) RunCleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled cleanup")

	deleted, err := s.cleaner.CleanupOldMessageLogs(ctx, s.retentionDays)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old message logs")
		return
	}
	s.logger.WithField(LogFieldCount, deleted).Info("Successfully completed cleanup")
}
