package service

import (
	"context"

	"wadispatch/internal/models"
)

// AccountStore persists accounts and their policy fields.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	UpdateAccountSettings(ctx context.Context, id int64, settings models.AccountSettings) error
	UpdateAccountLimits(ctx context.Context, id int64, limits models.AccountLimits) error
}

// QuotaStore performs the atomic daily counter update.
type QuotaStore interface {
	ReserveQuota(ctx context.Context, accountID int64, count int, day string) error
	GetQuotaUsage(ctx context.Context, accountID int64, day string) (*models.QuotaUsage, error)
}

// DeviceStore persists device records.
type DeviceStore interface {
	CreateDeviceWithinLimit(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, sessionID string) (*models.Device, error)
	GetAccountDevice(ctx context.Context, accountID int64, sessionID string) (*models.Device, error)
	ListDevices(ctx context.Context, accountID int64) ([]models.Device, error)
	ListReadyDevices(ctx context.Context, accountID int64) ([]models.Device, error)
	ListRestorableDevices(ctx context.Context) ([]models.Device, error)
	UpdateDeviceStatus(ctx context.Context, sessionID string, status models.DeviceStatus, phoneNumber string) error
	DeleteDevice(ctx context.Context, accountID int64, sessionID string) error
}

// MessageLogStore appends and reads send attempts.
type MessageLogStore interface {
	InsertMessageLog(ctx context.Context, entry *models.MessageLog) error
	ListMessageLogs(ctx context.Context, accountID int64, limit int) ([]models.MessageLog, error)
	CleanupOldMessageLogs(ctx context.Context, retentionDays int) (int64, error)
}

// Notification event names
const (
	NotificationQRCode             = "qr_code"
	NotificationClientReady        = "client_ready"
	NotificationClientDisconnected = "client_disconnected"
)

// Notification is a fire-and-forget message for the owning account's viewers.
type Notification struct {
	Event     string                 `json:"event"`
	AccountID int64                  `json:"-"`
	SessionID string                 `json:"-"`
	Data      map[string]interface{} `json:"data"`
}

// Notifier delivers notifications at most once. Publish must not block.
type Notifier interface {
	Publish(n Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Publish(Notification) {}
