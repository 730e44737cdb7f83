package types

import (
	"time"
)

// EventKind identifies a lifecycle event reported by a provider client.
type EventKind string

const (
	EventQR           EventKind = "qr"
	EventReady        EventKind = "ready"
	EventDisconnected EventKind = "disconnected"
	EventAuthFailed   EventKind = "auth_failed"
	EventInitFailed   EventKind = "init_failed"
)

// Event is a single asynchronous notification from a provider session.
// QRCode is set for EventQR, PhoneNumber for EventReady and Reason for the
// failure and disconnect kinds.
type Event struct {
	Kind        EventKind `json:"kind"`
	QRCode      string    `json:"qrCode,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// SendResult describes an accepted outbound message.
type SendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}
