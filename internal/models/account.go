package models

import "time"

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusExpired  AccountStatus = "expired"
)

// Account owns devices and carries the per-account dispatch policy and the
// daily quota counter. SentToday is only meaningful when LastSentDate is the
// current quota day.
type Account struct {
	ID                       int64         `json:"id"`
	Name                     string        `json:"name"`
	APIKeyHash               string        `json:"-"`
	Status                   AccountStatus `json:"status"`
	ExpiresAt                *time.Time    `json:"expiresAt,omitempty"`
	DeviceLimit              int           `json:"deviceLimit"`
	DailyLimit               int           `json:"dailyLimit"`
	MessagesPerDevice        int           `json:"messagesPerDevice"`
	DeviceSwitchDelaySeconds int           `json:"deviceSwitchDelaySeconds"`
	SentToday                int           `json:"sentToday"`
	LastSentDate             string        `json:"lastSentDate,omitempty"`
	CreatedAt                time.Time     `json:"createdAt"`
	UpdatedAt                time.Time     `json:"updatedAt"`
}

// Usable reports whether the account may authenticate at the given instant.
func (a *Account) Usable(now time.Time) bool {
	if a.Status != AccountStatusActive {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}

// AccountSettings are the dispatch knobs an account may change itself.
type AccountSettings struct {
	MessagesPerDevice        int `json:"messagesPerDevice"`
	DeviceSwitchDelaySeconds int `json:"deviceSwitchDelaySeconds"`
}

// AccountLimits are the administrator-controlled fields of an account.
// Nil fields are left unchanged.
type AccountLimits struct {
	DeviceLimit *int           `json:"deviceLimit,omitempty"`
	DailyLimit  *int           `json:"dailyLimit,omitempty"`
	Status      *AccountStatus `json:"status,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
}

// QuotaUsage is the effective counter for the current quota day.
type QuotaUsage struct {
	SentToday  int    `json:"sentToday"`
	DailyLimit int    `json:"dailyLimit"`
	Remaining  int    `json:"remaining"`
	Day        string `json:"day"`
}
