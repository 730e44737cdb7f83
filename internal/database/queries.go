package database

// Account queries
const (
	InsertAccountQuery = `
		INSERT INTO accounts (
			name, api_key_hash, status, expires_at,
			device_limit, daily_limit, messages_per_device, device_switch_delay_seconds,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectAccountColumns = `
		SELECT id, name, api_key_hash, status, expires_at,
		       device_limit, daily_limit, messages_per_device, device_switch_delay_seconds,
		       sent_today, last_sent_date, created_at, updated_at
		FROM accounts
	`

	SelectAccountByIDQuery = selectAccountColumns + ` WHERE id = ?`

	SelectAccountsQuery = selectAccountColumns + ` ORDER BY id`

	UpdateAccountSettingsQuery = `
		UPDATE accounts
		SET messages_per_device = ?, device_switch_delay_seconds = ?, updated_at = ?
		WHERE id = ?
	`

	UpdateAccountLimitsQuery = `
		UPDATE accounts
		SET device_limit = COALESCE(?, device_limit),
		    daily_limit = COALESCE(?, daily_limit),
		    status = COALESCE(?, status),
		    expires_at = COALESCE(?, expires_at),
		    updated_at = ?
		WHERE id = ?
	`

	AccountExistsQuery = `SELECT COUNT(*) FROM accounts WHERE id = ?`
)

// Quota queries. The effective counter is sent_today only when last_sent_date
// is the current quota day; otherwise the day has rolled over and it is zero.
const (
	ReserveQuotaQuery = `
		UPDATE accounts
		SET sent_today = (CASE WHEN last_sent_date = ? THEN sent_today ELSE 0 END) + ?,
		    last_sent_date = ?
		WHERE id = ?
		  AND (CASE WHEN last_sent_date = ? THEN sent_today ELSE 0 END) + ? <= daily_limit
	`

	SelectQuotaUsageQuery = `
		SELECT CASE WHEN last_sent_date = ? THEN sent_today ELSE 0 END, daily_limit
		FROM accounts
		WHERE id = ?
	`
)

// Device queries
const (
	// InsertDeviceWithinLimitQuery only inserts while the account is below its
	// device limit, so concurrent attaches cannot overshoot it.
	InsertDeviceWithinLimitQuery = `
		INSERT INTO devices (account_id, session_id, status, phone_number, created_at, updated_at)
		SELECT ?, ?, ?, '', ?, ?
		WHERE (SELECT COUNT(*) FROM devices WHERE account_id = ?)
		      < (SELECT device_limit FROM accounts WHERE id = ?)
	`

	selectDeviceColumns = `
		SELECT id, account_id, session_id, status, phone_number, created_at, updated_at
		FROM devices
	`

	SelectDeviceBySessionQuery = selectDeviceColumns + ` WHERE session_id = ?`

	SelectAccountDeviceQuery = selectDeviceColumns + ` WHERE account_id = ? AND session_id = ?`

	SelectAccountDevicesQuery = selectDeviceColumns + ` WHERE account_id = ? ORDER BY created_at, id`

	SelectDevicesByStatusQuery = selectDeviceColumns + ` WHERE account_id = ? AND status = ? ORDER BY created_at, id`

	SelectRestorableDevicesQuery = selectDeviceColumns + ` WHERE status != 'error' ORDER BY created_at, id`

	CountAccountDevicesQuery = `SELECT COUNT(*) FROM devices WHERE account_id = ?`

	UpdateDeviceStatusQuery = `
		UPDATE devices
		SET status = ?, phone_number = CASE WHEN ? = '' THEN phone_number ELSE ? END, updated_at = ?
		WHERE session_id = ?
	`

	DeleteAccountDeviceQuery = `DELETE FROM devices WHERE account_id = ? AND session_id = ?`
)

// Message log queries
const (
	InsertMessageLogQuery = `
		INSERT INTO message_logs (
			account_id, batch_id, sent_from, sent_to, message, status, failure_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectRecentMessageLogsQuery = `
		SELECT id, account_id, batch_id, sent_from, sent_to, message, status, failure_reason, created_at
		FROM message_logs
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	DeleteOldMessageLogsQuery = `DELETE FROM message_logs WHERE created_at < ?`
)
