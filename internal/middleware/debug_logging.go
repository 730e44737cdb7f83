package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"wadispatch/internal/privacy"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DebugLoggingConfig controls what gets logged
type DebugLoggingConfig struct {
	MaxBodySize      int
	SensitiveHeaders []string
	SkipPaths        []string
}

// DefaultDebugLoggingConfig returns the settings used by -verbose
func DefaultDebugLoggingConfig() DebugLoggingConfig {
	return DebugLoggingConfig{
		MaxBodySize: 2048,
		SensitiveHeaders: []string{
			"authorization", "cookie", "set-cookie",
			strings.ToLower(HeaderAPIKey), strings.ToLower(HeaderAdminToken),
		},
		SkipPaths: []string{"/metrics", "/health", "/ws"},
	}
}

// DebugLogging logs request and response bodies at debug level with
// phone numbers, keys and QR payloads masked.
func DebugLogging(logger *logrus.Logger, config DebugLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipPath(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			fields := tracing.LogFields(r.Context())
			fields[service.LogFieldMethod] = r.Method
			fields[service.LogFieldURL] = r.URL.Path
			fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)

			if r.Body != nil && r.ContentLength != 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, int64(config.MaxBodySize)+1))
				if err == nil {
					rest := r.Body
					r.Body = struct {
						io.Reader
						io.Closer
					}{io.MultiReader(bytes.NewReader(body), rest), rest}
					fields["request_body"] = maskBody(body, config.MaxBodySize)
				}
			}
			logger.WithFields(fields).Debug("HTTP request detail")

			capture := &bodyCapture{ResponseWriter: w, limit: config.MaxBodySize, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			respFields := tracing.LogFields(r.Context())
			respFields[service.LogFieldStatusCode] = capture.statusCode
			respFields["response_body"] = maskBody(capture.body.Bytes(), config.MaxBodySize)
			logger.WithFields(respFields).Debug("HTTP response detail")
		})
	}
}

func skipPath(path string, skips []string) bool {
	for _, skip := range skips {
		if path == skip || strings.HasPrefix(path, skip+"/") {
			return true
		}
	}
	return false
}

func maskHeaders(h http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name, sensitive) {
			out[name] = privacy.MaskSecret(strings.Join(values, ","))
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// isSensitiveHeader checks if a header should be masked
func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

// maskBody masks known sensitive keys of a JSON object body. Anything
// else is summarised by size, since free text may hold message content.
func maskBody(body []byte, limit int) interface{} {
	if len(body) == 0 {
		return ""
	}
	if len(body) > limit {
		return "[truncated]"
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return "[non-json body]"
	}
	masked := privacy.MaskSensitiveFields(obj)
	for _, key := range []string{"message", "body", "numbers"} {
		if v, ok := masked[key].(string); ok {
			masked[key] = service.SanitizeContent(v)
		}
	}
	if data, ok := masked["data"].(map[string]interface{}); ok {
		masked["data"] = privacy.MaskSensitiveFields(data)
	}
	return masked
}

type bodyCapture struct {
	http.ResponseWriter
	body       bytes.Buffer
	limit      int
	statusCode int
}

func (c *bodyCapture) WriteHeader(statusCode int) {
	c.statusCode = statusCode
	c.ResponseWriter.WriteHeader(statusCode)
}

func (c *bodyCapture) Write(data []byte) (int, error) {
	n, err := c.ResponseWriter.Write(data)
	if room := c.limit + 1 - c.body.Len(); room > 0 {
		if n < room {
			room = n
		}
		c.body.Write(data[:room])
	}
	return n, err
}

func (c *bodyCapture) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
