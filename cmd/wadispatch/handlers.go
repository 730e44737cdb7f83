package main

import (
	"net/http"
	"strconv"

	"wadispatch/internal/errors"
	"wadispatch/internal/httputil"
	"wadispatch/internal/middleware"
	"wadispatch/internal/models"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"
	"wadispatch/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type sendSingleRequest struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

// Numbers is the raw textarea content: one destination per line.
type sendBulkRequest struct {
	Numbers string `json:"numbers"`
	Message string `json:"message"`
}

type attachedDevice struct {
	SessionID string              `json:"sessionId"`
	Status    models.DeviceStatus `json:"status"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	if err := httputil.WriteJSON(w, status, v); err != nil {
		s.logger.WithError(err).Debug("Failed to write response")
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	if err := httputil.WriteSuccess(w, status, message, data); err != nil {
		s.logger.WithError(err).Debug("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	entry := s.logger.WithFields(tracing.LogFields(r.Context())).WithFields(logrus.Fields{
		service.LogFieldURL:       r.URL.Path,
		service.LogFieldErrorCode: errors.GetCode(err),
	})
	if errors.HTTPStatusCode(err) >= http.StatusInternalServerError {
		entry.WithError(err).Error("Request failed")
	} else {
		entry.WithError(err).Debug("Request rejected")
	}
	if werr := httputil.WriteError(w, r, err); werr != nil {
		s.logger.WithError(werr).Debug("Failed to write error response")
	}
}

// account returns the caller resolved by AccountAuth.
func (s *Server) account(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	account, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		s.writeError(w, r, errors.NewAuthError("request is not authenticated"))
		return nil, false
	}
	return account, true
}

func (s *Server) handleAttachDevice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		device, err := s.deps.Devices.AttachDevice(r.Context(), account.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusCreated, "Device session started, waiting for QR scan",
			attachedDevice{SessionID: device.SessionID, Status: device.Status})
	}
}

func (s *Server) handleListDevices() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		devices, err := s.deps.Devices.ListDevices(r.Context(), account.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "", devices)
	}
}

func (s *Server) handleReconnectDevice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		sessionID := mux.Vars(r)["sessionId"]
		if err := validation.ValidateSessionID(sessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
		device, err := s.deps.Devices.ReconnectDevice(r.Context(), account.ID, sessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "Reconnect requested", attachedDevice{SessionID: device.SessionID, Status: device.Status})
	}
}

func (s *Server) handleDeleteDevice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		sessionID := mux.Vars(r)["sessionId"]
		if err := validation.ValidateSessionID(sessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.deps.Devices.DeleteDevice(r.Context(), account.ID, sessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "Device deleted", nil)
	}
}

func (s *Server) handleSendSingle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		var req sendSingleRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		outcome, err := s.deps.Dispatcher.SendSingle(r.Context(), account.ID, req.Number, req.Message)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.WithFields(logrus.Fields{
			service.LogFieldAccountID:   account.ID,
			service.LogFieldDestination: service.LoggablePhone(r.Context(), outcome.SentTo),
		}).Debug("Single message sent")
		s.writeSuccess(w, http.StatusOK, "Message sent", outcome)
	}
}

func (s *Server) handleSendBulk() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		var req sendBulkRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		accepted, err := s.deps.Dispatcher.SendBulk(r.Context(), account.ID, req.Numbers, req.Message)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusAccepted, "Bulk send started", accepted)
	}
}

func (s *Server) handleBatchStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		status, err := s.deps.Dispatcher.BatchStatus(account.ID, mux.Vars(r)["batchId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "", status)
	}
}

func (s *Server) handleCancelBatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		status, err := s.deps.Dispatcher.CancelBatch(account.ID, mux.Vars(r)["batchId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "Batch cancelled", status)
	}
}

func (s *Server) handleRecentLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		logs, err := s.deps.Accounts.RecentLogs(r.Context(), account.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "", logs)
	}
}

func (s *Server) handleQuota() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		usage, err := s.deps.Quota.Usage(r.Context(), account.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "", usage)
	}
}

func (s *Server) handleGetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		settings, err := s.deps.Accounts.Settings(r.Context(), account.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "", settings)
	}
}

func (s *Server) handleUpdateSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		var req models.AccountSettings
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		settings, err := s.deps.Accounts.UpdateSettings(r.Context(), account.ID, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "Settings updated", settings)
	}
}

func (s *Server) handleNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.account(w, r)
		if !ok {
			return
		}
		s.deps.Notifications.ServeWS(w, r, account.ID)
	}
}

func (s *Server) handleCreateAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateAccountRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		created, err := s.deps.Accounts.CreateAccount(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusCreated, "Account created; store the API key, it is shown once", created)
	}
}

func (s *Server) handleListAccounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := s.deps.Accounts.ListAccounts(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "", accounts)
	}
}

func (s *Server) handleUpdateLimits() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := mux.Vars(r)["id"]
		accountID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || accountID <= 0 {
			s.writeError(w, r, errors.NewValidationError("id", raw, "account id must be a positive integer"))
			return
		}
		var req models.AccountLimits
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		account, err := s.deps.Accounts.UpdateLimits(r.Context(), accountID, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, "Account updated", account)
	}
}
