package service

import (
	"context"
	"sync"
	"time"

	"wadispatch/internal/errors"

	"github.com/google/uuid"
)

// BatchStatus is a point-in-time view of a bulk send.
type BatchStatus struct {
	ID         string     `json:"batchId"`
	AccountID  int64      `json:"-"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Running    bool       `json:"running"`
	Cancelled  bool       `json:"cancelled"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type batchState struct {
	status BatchStatus
	cancel context.CancelFunc
}

// BatchTracker keeps the status of bulk sends run by this process and lets
// their owners cancel them. Finished batches are kept for retention.
type BatchTracker struct {
	mu        sync.RWMutex
	batches   map[string]*batchState
	retention time.Duration
	now       func() time.Time
}

func NewBatchTracker(retention time.Duration) *BatchTracker {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &BatchTracker{
		batches:   make(map[string]*batchState),
		retention: retention,
		now:       time.Now,
	}
}

// Register creates a running batch with a fresh id.
func (t *BatchTracker) Register(accountID int64, total int, cancel context.CancelFunc) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()

	id := uuid.NewString()
	t.batches[id] = &batchState{
		status: BatchStatus{
			ID:        id,
			AccountID: accountID,
			Total:     total,
			Running:   true,
			StartedAt: t.now(),
		},
		cancel: cancel,
	}
	return id
}

type batchOutcome int

const (
	outcomeSent batchOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (t *BatchTracker) record(id string, outcome batchOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.batches[id]
	if st == nil {
		return
	}
	st.status.Processed++
	switch outcome {
	case outcomeSent:
		st.status.Sent++
	case outcomeFailed:
		st.status.Failed++
	case outcomeSkipped:
		st.status.Skipped++
	}
}

func (t *BatchTracker) finish(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.batches[id]
	if st == nil {
		return
	}
	now := t.now()
	st.status.Running = false
	st.status.FinishedAt = &now
	if st.cancel != nil {
		st.cancel()
	}
}

// Get returns the batch if it belongs to accountID.
func (t *BatchTracker) Get(accountID int64, id string) (BatchStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.batches[id]
	if st == nil || st.status.AccountID != accountID {
		return BatchStatus{}, errors.NewNotFoundError("batch", id)
	}
	return st.status, nil
}

// Cancel stops a running batch after its current item. Cancelling a
// finished batch is a no-op.
func (t *BatchTracker) Cancel(accountID int64, id string) (BatchStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.batches[id]
	if st == nil || st.status.AccountID != accountID {
		return BatchStatus{}, errors.NewNotFoundError("batch", id)
	}
	if st.status.Running {
		st.status.Cancelled = true
		if st.cancel != nil {
			st.cancel()
		}
	}
	return st.status, nil
}

func (t *BatchTracker) pruneLocked() {
	cutoff := t.now().Add(-t.retention)
	for id, st := range t.batches {
		if st.status.FinishedAt != nil && st.status.FinishedAt.Before(cutoff) {
			delete(t.batches, id)
		}
	}
}
