package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/retry"
)

var dbRetryPolicy = retry.Policy{
	InitialDelay: time.Duration(constants.DefaultDatabaseBackoffMs) * time.Millisecond,
	MaxDelay:     time.Duration(constants.DefaultDatabaseMaxBackoffMs) * time.Millisecond,
	Multiplier:   2,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       0.1,
}

// retryableDBOperationNoReturn runs a write that may hit a busy sqlite file
func retryableDBOperationNoReturn(ctx context.Context, operation func() error, operationName string) error {
	attempts := 0
	err := retry.DoIf(ctx, dbRetryPolicy, func(context.Context) error {
		attempts++
		return operation()
	}, isRetryableDBError, nil)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if !isRetryableDBError(err) {
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, err)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "database is locked"),
		strings.Contains(errStr, "database table is locked"),
		strings.Contains(errStr, "disk I/O error"):
		return true
	default:
		// constraint violations, schema errors and anything unknown are final
		return false
	}
}
