package tracing

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"wadispatch/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(models.TracingConfig{}, quietLogger())
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, "wadispatch", m.config.ServiceName)
}

func TestManager_InvalidSampleRate(t *testing.T) {
	m := NewManager(models.TracingConfig{Enabled: true, SampleRate: 1.5}, quietLogger())
	assert.Error(t, m.Start(context.Background()))
}

func TestManager_ConsoleExporter(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	m := NewManager(models.TracingConfig{
		Enabled:     true,
		ServiceName: "wadispatch-test",
		SampleRate:  1,
		UseConsole:  true,
	}, quietLogger())

	require.NoError(t, m.Start(context.Background()))
	assert.NotNil(t, m.provider)
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Nil(t, m.provider)
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestStartSpan_RecordsAttributesAndErrors(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "dispatch.send", attribute.String("session_id", "1_2"))
	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))

	AddSpanAttributes(ctx, attribute.Int("attempt", 1))
	RecordError(ctx, errors.New("provider down"))
	RecordError(ctx, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "dispatch.send", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "provider down", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)

	attrs := ended[0].Attributes()
	assert.Contains(t, attrs, attribute.String("session_id", "1_2"))
	assert.Contains(t, attrs, attribute.Int("attempt", 1))
}

func TestSetSpanStatus(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "http.request")
	SetSpanStatus(ctx, codes.Ok, "")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, codes.Ok, recorder.Ended()[0].Status().Code)
}

func TestSpanHelpers_NoActiveSpan(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))

	assert.NotPanics(t, func() {
		AddSpanAttributes(ctx, attribute.String("k", "v"))
		SetSpanStatus(ctx, codes.Error, "x")
		RecordError(ctx, errors.New("x"))
	})
}

func TestLogFields_WithSpan(t *testing.T) {
	installRecorder(t)

	ctx, span := StartSpan(WithRequestID(context.Background(), "req-2"), "op")
	defer span.End()

	fields := LogFields(ctx)
	assert.Equal(t, "req-2", fields["request_id"])
	assert.Equal(t, TraceID(ctx), fields["trace_id"])
	assert.Equal(t, SpanID(ctx), fields["span_id"])
}
