package models

import (
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// MessageLog is an append-only record of one send attempt.
type MessageLog struct {
	ID            int64          `json:"id"`
	AccountID     int64          `json:"accountId"`
	BatchID       string         `json:"batchId,omitempty"`
	SentFrom      string         `json:"sentFrom"`
	SentTo        string         `json:"sentTo"`
	Message       string         `json:"message"`
	Status        DeliveryStatus `json:"status"`
	FailureReason string         `json:"failureReason,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}
