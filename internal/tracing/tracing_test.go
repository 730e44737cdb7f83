package tracing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRequestID()
		assert.True(t, strings.HasPrefix(id, "req_"), id)
		assert.Len(t, id, 36)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestAcceptRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"empty", "", false},
		{"simple", "abc-123", true},
		{"dotted", "gw.1_2", true},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"max length", strings.Repeat("a", maxRequestIDLength), true},
		{"newline injection", "abc\nfake=1", false},
		{"spaces", "a b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AcceptRequestID(tt.incoming)
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.NotEqual(t, tt.incoming, got)
				assert.True(t, strings.HasPrefix(got, "req_"))
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
}

func TestStartTimeAndDuration(t *testing.T) {
	ctx := context.Background()
	assert.True(t, GetStartTime(ctx).IsZero())
	assert.Zero(t, Duration(ctx))

	start := time.Now().Add(-50 * time.Millisecond)
	ctx = WithStartTime(ctx, start)
	assert.Equal(t, start, GetStartTime(ctx))
	assert.GreaterOrEqual(t, Duration(ctx), 50*time.Millisecond)
}

func TestLogFields(t *testing.T) {
	assert.Empty(t, LogFields(context.Background()))

	fields := LogFields(WithRequestID(context.Background(), "req-9"))
	assert.Equal(t, "req-9", fields["request_id"])
	assert.NotContains(t, fields, "trace_id")
}
