package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"wadispatch/internal/migrations"
	"wadispatch/internal/models"
	"wadispatch/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrAccountNotFound is returned when an account id has no row.
	ErrAccountNotFound = errors.New("account not found")
	// ErrDeviceNotFound is returned when a session id has no device row.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrQuotaExceeded is returned when a reservation would overrun daily_limit.
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	// ErrDeviceLimitReached is returned when an account is at its device limit.
	ErrDeviceLimitReached = errors.New("device limit reached")
)

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	// Validate database path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps the quota update and
	// the conditional device insert strictly serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable. Used by the health endpoint.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Account operations

func (d *Database) CreateAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	if account.Status == "" {
		account.Status = models.AccountStatusActive
	}

	res, err := d.db.ExecContext(ctx, InsertAccountQuery,
		account.Name,
		account.APIKeyHash,
		account.Status,
		account.ExpiresAt,
		account.DeviceLimit,
		account.DailyLimit,
		account.MessagesPerDevice,
		account.DeviceSwitchDelaySeconds,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read account id: %w", err)
	}
	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a         models.Account
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.APIKeyHash, &a.Status, &expiresAt,
		&a.DeviceLimit, &a.DailyLimit, &a.MessagesPerDevice, &a.DeviceSwitchDelaySeconds,
		&a.SentToday, &a.LastSentDate, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	return &a, nil
}

// GetAccount returns nil, nil when the account does not exist.
func (d *Database) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	account, err := scanAccount(d.db.QueryRowContext(ctx, SelectAccountByIDQuery, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (d *Database) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := d.db.QueryContext(ctx, SelectAccountsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (d *Database) UpdateAccountSettings(ctx context.Context, id int64, settings models.AccountSettings) error {
	res, err := d.db.ExecContext(ctx, UpdateAccountSettingsQuery,
		settings.MessagesPerDevice, settings.DeviceSwitchDelaySeconds, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account settings: %w", err)
	}
	return requireAffected(res, ErrAccountNotFound)
}

func (d *Database) UpdateAccountLimits(ctx context.Context, id int64, limits models.AccountLimits) error {
	var status *string
	if limits.Status != nil {
		s := string(*limits.Status)
		status = &s
	}
	var expiresAt any
	if limits.ExpiresAt != nil {
		expiresAt = limits.ExpiresAt.UTC()
	}

	res, err := d.db.ExecContext(ctx, UpdateAccountLimitsQuery,
		limits.DeviceLimit, limits.DailyLimit, status, expiresAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account limits: %w", err)
	}
	return requireAffected(res, ErrAccountNotFound)
}

// Quota operations

// ReserveQuota atomically adds count to the account's counter for day,
// resetting a counter left over from an earlier day. It returns
// ErrQuotaExceeded without changing anything when the result would pass the
// daily limit.
func (d *Database) ReserveQuota(ctx context.Context, accountID int64, count int, day string) error {
	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, ReserveQuotaQuery, day, count, day, accountID, day, count)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	}, "reserve quota")
	if err != nil {
		return fmt.Errorf("failed to reserve quota: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	if err := d.db.QueryRowContext(ctx, AccountExistsQuery, accountID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if exists == 0 {
		return ErrAccountNotFound
	}
	return ErrQuotaExceeded
}

// GetQuotaUsage reports the effective counter for day.
func (d *Database) GetQuotaUsage(ctx context.Context, accountID int64, day string) (*models.QuotaUsage, error) {
	var usage models.QuotaUsage
	err := d.db.QueryRowContext(ctx, SelectQuotaUsageQuery, day, accountID).Scan(&usage.SentToday, &usage.DailyLimit)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota usage: %w", err)
	}
	usage.Day = day
	usage.Remaining = usage.DailyLimit - usage.SentToday
	if usage.Remaining < 0 {
		usage.Remaining = 0
	}
	return &usage, nil
}

// Device operations

// CreateDeviceWithinLimit inserts the device only if the account owns fewer
// devices than its device limit.
func (d *Database) CreateDeviceWithinLimit(ctx context.Context, device *models.Device) error {
	now := time.Now().UTC()
	res, err := d.db.ExecContext(ctx, InsertDeviceWithinLimitQuery,
		device.AccountID, device.SessionID, device.Status, now, now,
		device.AccountID, device.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDeviceLimitReached
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read device id: %w", err)
	}
	device.ID = id
	device.CreatedAt = now
	device.UpdatedAt = now
	return nil
}

func (d *Database) CountDevices(ctx context.Context, accountID int64) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, CountAccountDevicesQuery, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return n, nil
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var dev models.Device
	if err := row.Scan(&dev.ID, &dev.AccountID, &dev.SessionID, &dev.Status, &dev.PhoneNumber, &dev.CreatedAt, &dev.UpdatedAt); err != nil {
		return nil, err
	}
	return &dev, nil
}

// GetDevice returns nil, nil when no device has the session id.
func (d *Database) GetDevice(ctx context.Context, sessionID string) (*models.Device, error) {
	dev, err := scanDevice(d.db.QueryRowContext(ctx, SelectDeviceBySessionQuery, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return dev, nil
}

// GetAccountDevice returns nil, nil when the session does not exist or
// belongs to another account.
func (d *Database) GetAccountDevice(ctx context.Context, accountID int64, sessionID string) (*models.Device, error) {
	dev, err := scanDevice(d.db.QueryRowContext(ctx, SelectAccountDeviceQuery, accountID, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return dev, nil
}

func (d *Database) queryDevices(ctx context.Context, query string, args ...any) ([]models.Device, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *dev)
	}
	return devices, rows.Err()
}

// ListDevices returns the account's devices in creation order.
func (d *Database) ListDevices(ctx context.Context, accountID int64) ([]models.Device, error) {
	return d.queryDevices(ctx, SelectAccountDevicesQuery, accountID)
}

// ListReadyDevices returns the account's ready devices in creation order.
func (d *Database) ListReadyDevices(ctx context.Context, accountID int64) ([]models.Device, error) {
	return d.queryDevices(ctx, SelectDevicesByStatusQuery, accountID, models.DeviceStatusReady)
}

// ListRestorableDevices returns every device not parked in the error state.
func (d *Database) ListRestorableDevices(ctx context.Context) ([]models.Device, error) {
	return d.queryDevices(ctx, SelectRestorableDevicesQuery)
}

// UpdateDeviceStatus sets the status of a session. An empty phone number
// leaves the stored one untouched.
func (d *Database) UpdateDeviceStatus(ctx context.Context, sessionID string, status models.DeviceStatus, phoneNumber string) error {
	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, UpdateDeviceStatusQuery, status, phoneNumber, phoneNumber, time.Now().UTC(), sessionID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	}, "update device status")
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes a device owned by the account.
func (d *Database) DeleteDevice(ctx context.Context, accountID int64, sessionID string) error {
	res, err := d.db.ExecContext(ctx, DeleteAccountDeviceQuery, accountID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return requireAffected(res, ErrDeviceNotFound)
}

// Message log operations

func (d *Database) InsertMessageLog(ctx context.Context, entry *models.MessageLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, InsertMessageLogQuery,
			entry.AccountID,
			entry.BatchID,
			entry.SentFrom,
			entry.SentTo,
			entry.Message,
			entry.Status,
			entry.FailureReason,
			entry.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		entry.ID = id
		return nil
	}, "insert message log")
}

// ListMessageLogs returns the newest entries first.
func (d *Database) ListMessageLogs(ctx context.Context, accountID int64, limit int) ([]models.MessageLog, error) {
	rows, err := d.db.QueryContext(ctx, SelectRecentMessageLogsQuery, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list message logs: %w", err)
	}
	defer rows.Close()

	var logs []models.MessageLog
	for rows.Next() {
		var l models.MessageLog
		if err := rows.Scan(&l.ID, &l.AccountID, &l.BatchID, &l.SentFrom, &l.SentTo, &l.Message, &l.Status, &l.FailureReason, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CleanupOldMessageLogs deletes log entries older than retentionDays and
// returns how many were removed.
func (d *Database) CleanupOldMessageLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := d.db.ExecContext(ctx, DeleteOldMessageLogsQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old message logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
