package main

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/middleware"
	"wadispatch/internal/models"
	"wadispatch/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type accountAPI interface {
	middleware.AccountAuthenticator
	CreateAccount(ctx context.Context, req service.CreateAccountRequest) (*service.CreatedAccount, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	UpdateLimits(ctx context.Context, accountID int64, limits models.AccountLimits) (*models.Account, error)
	Settings(ctx context.Context, accountID int64) (*models.AccountSettings, error)
	UpdateSettings(ctx context.Context, accountID int64, settings models.AccountSettings) (*models.AccountSettings, error)
	RecentLogs(ctx context.Context, accountID int64) ([]models.MessageLog, error)
}

type deviceAPI interface {
	AttachDevice(ctx context.Context, accountID int64) (*models.Device, error)
	ListDevices(ctx context.Context, accountID int64) ([]models.Device, error)
	ReconnectDevice(ctx context.Context, accountID int64, sessionID string) (*models.Device, error)
	DeleteDevice(ctx context.Context, accountID int64, sessionID string) error
}

type dispatchAPI interface {
	SendSingle(ctx context.Context, accountID int64, destination, body string) (*service.SendOutcome, error)
	SendBulk(ctx context.Context, accountID int64, numbers, body string) (*service.BulkAccepted, error)
	BatchStatus(accountID int64, batchID string) (service.BatchStatus, error)
	CancelBatch(accountID int64, batchID string) (service.BatchStatus, error)
}

type quotaAPI interface {
	Usage(ctx context.Context, accountID int64) (*models.QuotaUsage, error)
}

type notificationStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, accountID int64)
}

type healthChecker interface {
	Ping(ctx context.Context) error
}

type sessionCounter interface {
	Count() int
}

// Dependencies are the services the HTTP layer routes to.
type Dependencies struct {
	Accounts      accountAPI
	Devices       deviceAPI
	Dispatcher    dispatchAPI
	Quota         quotaAPI
	Notifications notificationStream
	Health        healthChecker
	Sessions      sessionCounter
}

type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	cfg     models.ServerConfig
	deps    Dependencies
	debug   bool
	verbose atomic.Bool
	server  *http.Server
}

func NewServer(cfg models.ServerConfig, deps Dependencies, logger *logrus.Logger, debug bool) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		cfg:    cfg,
		deps:   deps,
		debug:  debug,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))
	s.router.Use(s.verboseContext)
	if s.debug {
		s.router.Use(middleware.DebugLogging(s.logger, middleware.DefaultDebugLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	accountAuth := middleware.AccountAuth(s.deps.Accounts, s.logger)

	s.router.Handle("/ws", accountAuth(s.handleNotifications())).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(accountAuth)

	api.HandleFunc("/devices", s.handleAttachDevice()).Methods(http.MethodPost)
	api.HandleFunc("/devices", s.handleListDevices()).Methods(http.MethodGet)
	api.HandleFunc("/devices/{sessionId}/reconnect", s.handleReconnectDevice()).Methods(http.MethodPost)
	api.HandleFunc("/devices/{sessionId}", s.handleDeleteDevice()).Methods(http.MethodDelete)

	api.HandleFunc("/messages/single", s.handleSendSingle()).Methods(http.MethodPost)
	api.HandleFunc("/messages/bulk", s.handleSendBulk()).Methods(http.MethodPost)
	api.HandleFunc("/batches/{batchId}", s.handleBatchStatus()).Methods(http.MethodGet)
	api.HandleFunc("/batches/{batchId}/cancel", s.handleCancelBatch()).Methods(http.MethodPost)

	api.HandleFunc("/reports/messages", s.handleRecentLogs()).Methods(http.MethodGet)
	api.HandleFunc("/quota", s.handleQuota()).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings()).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings()).Methods(http.MethodPut)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminAuth(s.cfg.AdminToken, s.logger))
	admin.HandleFunc("/accounts", s.handleCreateAccount()).Methods(http.MethodPost)
	admin.HandleFunc("/accounts", s.handleListAccounts()).Methods(http.MethodGet)
	admin.HandleFunc("/accounts/{id}", s.handleUpdateLimits()).Methods(http.MethodPut)
}

// SetVerboseLogging controls whether request logs carry unmasked phone numbers.
func (s *Server) SetVerboseLogging(enabled bool) {
	s.verbose.Store(enabled)
}

func (s *Server) verboseContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verbose.Load() {
			r = r.WithContext(service.WithVerboseLogging(r.Context(), true))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), constants.DefaultHealthCheckTimeoutSec*time.Second)
		defer cancel()

		body := map[string]interface{}{
			"status":   "healthy",
			"sessions": s.deps.Sessions.Count(),
		}
		status := http.StatusOK
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed: database unreachable")
			body["status"] = "unhealthy"
			body["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, body)
	}
}
