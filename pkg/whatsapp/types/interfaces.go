package types

import (
	"context"
)

// EventHandler receives lifecycle events for one session. It may be called
// from provider goroutines and must not block for long.
type EventHandler func(Event)

// Client is a live provider session able to send text messages.
type Client interface {
	// Initialize starts connecting. Pairing challenges, readiness and
	// failures arrive later through the EventHandler.
	Initialize(ctx context.Context) error
	// SendText delivers body to a destination given as bare digits.
	SendText(ctx context.Context, phoneNumber, body string) (*SendResult, error)
	// Close tears the session down. It is safe to call more than once.
	Close()
}

// ClientFactory builds clients whose credentials are stored under the
// session id, and removes those credentials on request.
type ClientFactory interface {
	NewClient(ctx context.Context, sessionID string, onEvent EventHandler) (Client, error)
	RemoveCredentials(sessionID string) error
	HasCredentials(sessionID string) bool
}
