package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wadispatch/internal/metrics"
	"wadispatch/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger, &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestObservability_RequestIDAndAccessLog(t *testing.T) {
	logger, buf := bufferLogger(logrus.InfoLevel)

	var seenID string
	router := mux.NewRouter()
	router.Use(Observability(logger))
	router.HandleFunc("/api/devices/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		seenID = tracing.GetRequestID(r.Context())
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false}`))
	}).Methods(http.MethodDelete)

	req := httptest.NewRequest(http.MethodDelete, "/api/devices/3_1700", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rec.Header().Get(tracing.RequestIDHeader))

	entry := lastLogLine(t, buf)
	assert.Equal(t, "HTTP request completed", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "/api/devices/{sessionId}", entry["route"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status_code"])
	assert.Equal(t, "192.168.1.100", entry["remote_ip"])
	assert.Equal(t, seenID, entry["request_id"])

	snap := metrics.GetAllMetrics()
	_, ok := snap.Counters["http_responses_total_method:DELETE_route:/api/devices/{sessionId}_status_code:404"]
	assert.True(t, ok, "expected response counter keyed by route template")
	_, ok = snap.Timers["http_request_duration_method:DELETE_route:/api/devices/{sessionId}"]
	assert.True(t, ok, "expected duration timer keyed by route template")
}

func TestObservability_KeepsSafeIncomingRequestID(t *testing.T) {
	logger, _ := bufferLogger(logrus.InfoLevel)
	handler := Observability(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(tracing.RequestIDHeader, "gateway-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "gateway-42", rec.Header().Get(tracing.RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(tracing.RequestIDHeader, "bad id\r\n")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.True(t, strings.HasPrefix(rec.Header().Get(tracing.RequestIDHeader), "req_"))
}

func TestObservability_ServerErrorLoggedAtErrorLevel(t *testing.T) {
	logger, buf := bufferLogger(logrus.InfoLevel)
	handler := Observability(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	entry := lastLogLine(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "unmatched", entry["route"])
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	client, server := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestStatusRecorder_ForwardsHijack(t *testing.T) {
	inner := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rec := &statusRecorder{ResponseWriter: inner, statusCode: http.StatusOK}

	conn, _, err := rec.Hijack()
	require.NoError(t, err)
	_ = conn.Close()
	assert.True(t, inner.hijacked)
	assert.Equal(t, http.StatusSwitchingProtocols, rec.statusCode)

	plain := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err = plain.Hijack()
	assert.Error(t, err)
}

func TestStatusRecorder_CountsBytesAndFirstStatus(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, statusCode: http.StatusOK}

	rec.WriteHeader(http.StatusCreated)
	rec.WriteHeader(http.StatusInternalServerError)
	_, _ = rec.Write([]byte("hello"))
	rec.Flush()

	assert.Equal(t, http.StatusCreated, rec.statusCode)
	assert.Equal(t, int64(5), rec.size)
	assert.True(t, inner.Flushed)
	assert.Same(t, inner, rec.Unwrap())
}
