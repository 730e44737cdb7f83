package models

import "time"

type DeviceStatus string

const (
	DeviceStatusDisconnected DeviceStatus = "disconnected"
	DeviceStatusLoading      DeviceStatus = "loading"
	DeviceStatusNeedsQR      DeviceStatus = "needs_qr"
	DeviceStatusReady        DeviceStatus = "ready"
	DeviceStatusError        DeviceStatus = "error"
)

// Valid reports whether s is one of the known device states.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusDisconnected, DeviceStatusLoading, DeviceStatusNeedsQR, DeviceStatusReady, DeviceStatusError:
		return true
	}
	return false
}

// Device is one provider session attached to an account.
type Device struct {
	ID          int64        `json:"id"`
	AccountID   int64        `json:"accountId"`
	SessionID   string       `json:"sessionId"`
	Status      DeviceStatus `json:"status"`
	PhoneNumber string       `json:"phoneNumber,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}
