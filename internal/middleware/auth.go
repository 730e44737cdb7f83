package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"wadispatch/internal/errors"
	"wadispatch/internal/httputil"
	"wadispatch/internal/models"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	HeaderAccountID  = "X-Account-ID"
	HeaderAPIKey     = "X-API-Key"
	HeaderAdminToken = "X-Admin-Token"
)

type accountContextKey struct{}

// AccountAuthenticator verifies account credentials.
type AccountAuthenticator interface {
	Authenticate(ctx context.Context, accountID int64, apiKey string) (*models.Account, error)
}

// WithAccount stores the authenticated account on the context.
func WithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext returns the account set by AccountAuth.
func AccountFromContext(ctx context.Context) (*models.Account, bool) {
	account, ok := ctx.Value(accountContextKey{}).(*models.Account)
	return account, ok && account != nil
}

// AccountAuth requires X-Account-ID and X-API-Key. Websocket handshakes
// may pass accountId and apiKey as query parameters instead, since
// browsers cannot set headers on them.
func AccountAuth(auth AccountAuthenticator, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawID, apiKey := accountCredentials(r)

			accountID, err := strconv.ParseInt(rawID, 10, 64)
			if rawID == "" || err != nil || accountID <= 0 {
				reject(w, r, logger, errors.NewAuthError("missing or malformed account id"))
				return
			}

			account, err := auth.Authenticate(r.Context(), accountID, apiKey)
			if err != nil {
				reject(w, r, logger, err)
				return
			}

			tracing.AddSpanAttributes(r.Context(), attribute.Int64("account.id", account.ID))
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

func accountCredentials(r *http.Request) (string, string) {
	id := strings.TrimSpace(r.Header.Get(HeaderAccountID))
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if id != "" || key != "" {
		return id, key
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		q := r.URL.Query()
		return strings.TrimSpace(q.Get("accountId")), strings.TrimSpace(q.Get("apiKey"))
	}
	return "", ""
}

// AdminAuth guards the admin routes with a static token. An empty
// configured token disables the admin API.
func AdminAuth(token string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				reject(w, r, logger, errors.NewForbiddenError("admin API is disabled"))
				return
			}
			presented := r.Header.Get(HeaderAdminToken)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				reject(w, r, logger, errors.NewAuthError("invalid admin token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, err error) {
	logger.WithFields(tracing.LogFields(r.Context())).WithFields(logrus.Fields{
		service.LogFieldRemoteIP:  httputil.GetClientIP(r),
		service.LogFieldURL:       r.URL.Path,
		service.LogFieldErrorCode: errors.GetCode(err),
	}).Warn("Rejected unauthenticated request")
	if werr := httputil.WriteError(w, r, err); werr != nil {
		logger.WithError(werr).Debug("Failed to write auth error")
	}
}
