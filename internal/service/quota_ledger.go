package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"

	"github.com/sirupsen/logrus"
)

const quotaDayLayout = "2006-01-02"

// QuotaLedger enforces the per-account daily send limit. The counter rolls
// over lazily: a counter stamped with an earlier day counts as zero.
type QuotaLedger struct {
	store    QuotaStore
	location *time.Location
	now      func() time.Time
	logger   *logrus.Logger
}

// NewQuotaLedger creates a ledger that computes calendar days in loc.
func NewQuotaLedger(store QuotaStore, loc *time.Location, logger *logrus.Logger) *QuotaLedger {
	if loc == nil {
		loc = time.Local
	}
	return &QuotaLedger{
		store:    store,
		location: loc,
		now:      time.Now,
		logger:   logger,
	}
}

// Today returns the current quota day as YYYY-MM-DD.
func (l *QuotaLedger) Today() string {
	return l.now().In(l.location).Format(quotaDayLayout)
}

// Reserve atomically adds count units for today, or fails with
// QUOTA_EXCEEDED leaving the counter untouched.
func (l *QuotaLedger) Reserve(ctx context.Context, accountID int64, count int) error {
	if count <= 0 {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("reservation count must be positive, got %d", count))
	}

	day := l.Today()
	err := l.store.ReserveQuota(ctx, accountID, count, day)
	switch {
	case err == nil:
		metrics.AddToCounter("quota_reserved_total", float64(count), nil, "Quota units reserved")
		l.logger.WithFields(logrus.Fields{
			LogFieldAccountID: accountID,
			LogFieldCount:     count,
		}).Debug("Quota reserved")
		return nil
	case stderrors.Is(err, database.ErrQuotaExceeded):
		metrics.IncrementCounter("quota_rejections_total", nil, "Reservations rejected by the daily limit")
		remaining := 0
		if usage, uerr := l.store.GetQuotaUsage(ctx, accountID, day); uerr == nil {
			remaining = usage.Remaining
		}
		return errors.NewQuotaExceededError(count, remaining)
	case stderrors.Is(err, database.ErrAccountNotFound):
		return errors.NewNotFoundError("account", fmt.Sprint(accountID))
	default:
		return errors.NewDatabaseError("reserve quota", err)
	}
}

// Usage reports today's effective counter.
func (l *QuotaLedger) Usage(ctx context.Context, accountID int64) (*models.QuotaUsage, error) {
	usage, err := l.store.GetQuotaUsage(ctx, accountID, l.Today())
	if stderrors.Is(err, database.ErrAccountNotFound) {
		return nil, errors.NewNotFoundError("account", fmt.Sprint(accountID))
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get quota usage", err)
	}
	return usage, nil
}
