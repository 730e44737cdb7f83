package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, accountID int64, apiKey string) (*models.Account, error) {
	args := m.Called(ctx, accountID, apiKey)
	account, _ := args.Get(0).(*models.Account)
	return account, args.Error(1)
}

func accountEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("X-Seen-Account", account.Name)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAccountAuth(t *testing.T) {
	logger, _ := bufferLogger(logrus.WarnLevel)

	tests := []struct {
		name       string
		setup      func(*mockAuthenticator)
		headers    map[string]string
		target     string
		wantStatus int
		wantName   string
	}{
		{
			name:       "missing credentials",
			setup:      func(*mockAuthenticator) {},
			target:     "/api/devices",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed account id",
			setup:      func(*mockAuthenticator) {},
			headers:    map[string]string{HeaderAccountID: "abc", HeaderAPIKey: "k"},
			target:     "/api/devices",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "valid credentials",
			setup: func(m *mockAuthenticator) {
				m.On("Authenticate", mock.Anything, int64(7), "secret").
					Return(&models.Account{ID: 7, Name: "acme"}, nil)
			},
			headers:    map[string]string{HeaderAccountID: "7", HeaderAPIKey: "secret"},
			target:     "/api/devices",
			wantStatus: http.StatusNoContent,
			wantName:   "acme",
		},
		{
			name: "wrong key",
			setup: func(m *mockAuthenticator) {
				m.On("Authenticate", mock.Anything, int64(7), "nope").
					Return(nil, errors.NewAuthError("invalid api key"))
			},
			headers:    map[string]string{HeaderAccountID: "7", HeaderAPIKey: "nope"},
			target:     "/api/devices",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "expired account",
			setup: func(m *mockAuthenticator) {
				m.On("Authenticate", mock.Anything, int64(7), "secret").
					Return(nil, errors.NewForbiddenError("account is expired"))
			},
			headers:    map[string]string{HeaderAccountID: "7", HeaderAPIKey: "secret"},
			target:     "/api/devices",
			wantStatus: http.StatusForbidden,
		},
		{
			name: "websocket query credentials",
			setup: func(m *mockAuthenticator) {
				m.On("Authenticate", mock.Anything, int64(9), "wskey").
					Return(&models.Account{ID: 9, Name: "viewer"}, nil)
			},
			headers:    map[string]string{"Upgrade": "websocket"},
			target:     "/ws?accountId=9&apiKey=wskey",
			wantStatus: http.StatusNoContent,
			wantName:   "viewer",
		},
		{
			name:       "query credentials ignored without upgrade",
			setup:      func(*mockAuthenticator) {},
			target:     "/api/devices?accountId=9&apiKey=wskey",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &mockAuthenticator{}
			tt.setup(auth)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			AccountAuth(auth, logger)(accountEcho()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantName, rec.Header().Get("X-Seen-Account"))
			auth.AssertExpectations(t)
		})
	}
}

func TestAdminAuth(t *testing.T) {
	logger, _ := bufferLogger(logrus.WarnLevel)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name       string
		configured string
		presented  string
		wantStatus int
	}{
		{"disabled", "", "anything", http.StatusForbidden},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"wrong", "s3cret", "s3cre", http.StatusUnauthorized},
		{"correct", "s3cret", "s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/accounts", nil)
			if tt.presented != "" {
				req.Header.Set(HeaderAdminToken, tt.presented)
			}
			rec := httptest.NewRecorder()
			AdminAuth(tt.configured, logger)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
