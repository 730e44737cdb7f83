package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/validation"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyBytes = 24

// CreateAccountRequest carries the administrator's choices for a new
// account. Zero values fall back to the configured defaults.
type CreateAccountRequest struct {
	Name                     string `json:"name"`
	DeviceLimit              int    `json:"deviceLimit"`
	DailyLimit               int    `json:"dailyLimit"`
	MessagesPerDevice        int    `json:"messagesPerDevice"`
	DeviceSwitchDelaySeconds int    `json:"deviceSwitchDelaySeconds"`
	ValidityDays             int    `json:"validityDays"`
}

// CreatedAccount is returned once at creation. The API key is not stored
// and cannot be recovered later.
type CreatedAccount struct {
	Account *models.Account `json:"account"`
	APIKey  string          `json:"apiKey"`
}

// AccountService manages accounts, their credentials and their settings.
type AccountService struct {
	accounts AccountStore
	logs     MessageLogStore
	defaults models.AccountDefaults
	logger   *logrus.Logger
	now      func() time.Time
}

func NewAccountService(accounts AccountStore, logs MessageLogStore, defaults models.AccountDefaults, logger *logrus.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		logs:     logs,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func generateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CreateAccount provisions an account and its one-time API key.
func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*CreatedAccount, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.NewValidationError("name", "", "account name is required")
	}
	if err := validation.ValidateStringLength(name, "account name", 1, constants.MaxAccountNameLength); err != nil {
		return nil, err
	}
	if req.DeviceLimit < 0 || req.DailyLimit < 0 || req.MessagesPerDevice < 0 || req.DeviceSwitchDelaySeconds < 0 || req.ValidityDays < 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "account limits must not be negative")
	}

	key, err := generateAPIKey()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to generate api key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to hash api key")
	}

	validity := orDefault(req.ValidityDays, orDefault(s.defaults.ValidityDays, constants.DefaultAccountValidityDays))
	expires := s.now().UTC().AddDate(0, 0, validity)

	account := &models.Account{
		Name:                     name,
		APIKeyHash:               string(hash),
		Status:                   models.AccountStatusActive,
		ExpiresAt:                &expires,
		DeviceLimit:              orDefault(req.DeviceLimit, orDefault(s.defaults.DeviceLimit, constants.DefaultDeviceLimit)),
		DailyLimit:               orDefault(req.DailyLimit, orDefault(s.defaults.DailyLimit, constants.DefaultDailyLimit)),
		MessagesPerDevice:        orDefault(req.MessagesPerDevice, orDefault(s.defaults.MessagesPerDevice, constants.DefaultMessagesPerDevice)),
		DeviceSwitchDelaySeconds: orDefault(req.DeviceSwitchDelaySeconds, orDefault(s.defaults.DeviceSwitchDelaySeconds, constants.DefaultDeviceSwitchDelaySeconds)),
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, errors.NewDatabaseError("create account", err)
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldAccountID: account.ID,
		"deviceLimit":     account.DeviceLimit,
		"dailyLimit":      account.DailyLimit,
	}).Info("Account created")
	return &CreatedAccount{Account: account, APIKey: key}, nil
}

// Authenticate checks the API key of an account and that the account is
// active and not expired.
func (s *AccountService) Authenticate(ctx context.Context, accountID int64, apiKey string) (*models.Account, error) {
	if accountID <= 0 || apiKey == "" {
		return nil, errors.NewAuthError("missing credentials")
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, errors.NewDatabaseError("get account", err)
	}
	if account == nil {
		return nil, errors.NewAuthError("unknown account")
	}
	if bcrypt.CompareHashAndPassword([]byte(account.APIKeyHash), []byte(apiKey)) != nil {
		return nil, errors.NewAuthError("invalid api key")
	}
	if !account.Usable(s.now()) {
		return nil, errors.NewForbiddenError(fmt.Sprintf("account is %s", accountState(account, s.now())))
	}
	return account, nil
}

func accountState(a *models.Account, now time.Time) string {
	if a.Status != models.AccountStatusActive {
		return string(a.Status)
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return string(models.AccountStatusExpired)
	}
	return string(a.Status)
}

// GetAccount returns the account or NOT_FOUND.
func (s *AccountService) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, errors.NewDatabaseError("get account", err)
	}
	if account == nil {
		return nil, errors.NewNotFoundError("account", fmt.Sprint(accountID))
	}
	return account, nil
}

// Settings returns the dispatch settings the account controls.
func (s *AccountService) Settings(ctx context.Context, accountID int64) (*models.AccountSettings, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &models.AccountSettings{
		MessagesPerDevice:        account.MessagesPerDevice,
		DeviceSwitchDelaySeconds: account.DeviceSwitchDelaySeconds,
	}, nil
}

// UpdateSettings changes the rotation knobs. Running batches keep the values
// they started with.
func (s *AccountService) UpdateSettings(ctx context.Context, accountID int64, settings models.AccountSettings) (*models.AccountSettings, error) {
	if settings.MessagesPerDevice < 1 {
		return nil, errors.NewValidationError("messagesPerDevice", fmt.Sprint(settings.MessagesPerDevice), "must be at least 1")
	}
	if settings.DeviceSwitchDelaySeconds < 0 {
		return nil, errors.NewValidationError("deviceSwitchDelaySeconds", fmt.Sprint(settings.DeviceSwitchDelaySeconds), "must not be negative")
	}
	if err := s.accounts.UpdateAccountSettings(ctx, accountID, settings); err != nil {
		if stderrors.Is(err, database.ErrAccountNotFound) {
			return nil, errors.NewNotFoundError("account", fmt.Sprint(accountID))
		}
		return nil, errors.NewDatabaseError("update account settings", err)
	}
	s.logger.WithFields(logrus.Fields{
		LogFieldAccountID:          accountID,
		"messagesPerDevice":        settings.MessagesPerDevice,
		"deviceSwitchDelaySeconds": settings.DeviceSwitchDelaySeconds,
	}).Info("Account settings updated")
	return &settings, nil
}

// ListAccounts returns every account for administrators.
func (s *AccountService) ListAccounts(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list accounts", err)
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	return accounts, nil
}

// UpdateLimits applies an administrator change and returns the result.
func (s *AccountService) UpdateLimits(ctx context.Context, accountID int64, limits models.AccountLimits) (*models.Account, error) {
	if limits.DeviceLimit != nil && *limits.DeviceLimit < 0 {
		return nil, errors.NewValidationError("deviceLimit", fmt.Sprint(*limits.DeviceLimit), "must not be negative")
	}
	if limits.DailyLimit != nil && *limits.DailyLimit < 0 {
		return nil, errors.NewValidationError("dailyLimit", fmt.Sprint(*limits.DailyLimit), "must not be negative")
	}
	if limits.Status != nil {
		switch *limits.Status {
		case models.AccountStatusActive, models.AccountStatusInactive, models.AccountStatusExpired:
		default:
			return nil, errors.NewValidationError("status", string(*limits.Status), "unknown account status")
		}
	}

	if err := s.accounts.UpdateAccountLimits(ctx, accountID, limits); err != nil {
		if stderrors.Is(err, database.ErrAccountNotFound) {
			return nil, errors.NewNotFoundError("account", fmt.Sprint(accountID))
		}
		return nil, errors.NewDatabaseError("update account limits", err)
	}
	s.logger.WithField(LogFieldAccountID, accountID).Info("Account limits updated")
	return s.GetAccount(ctx, accountID)
}

// RecentLogs returns the newest message logs of the account.
func (s *AccountService) RecentLogs(ctx context.Context, accountID int64) ([]models.MessageLog, error) {
	logs, err := s.logs.ListMessageLogs(ctx, accountID, constants.DefaultRecentLogsLimit)
	if err != nil {
		return nil, errors.NewDatabaseError("list message logs", err)
	}
	if logs == nil {
		logs = []models.MessageLog{}
	}
	return logs, nil
}
