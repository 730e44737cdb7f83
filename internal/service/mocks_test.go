package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wadispatch/internal/database"
	"wadispatch/internal/models"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scriptable provider session.
type fakeClient struct {
	sessionID string
	onEvent   types.EventHandler
	initErr   error
	sendFn    func(ctx context.Context, phone, body string) (*types.SendResult, error)

	mu     sync.Mutex
	sent   []string
	closed bool
}

func (c *fakeClient) Initialize(ctx context.Context) error {
	return c.initErr
}

func (c *fakeClient) SendText(ctx context.Context, phone, body string) (*types.SendResult, error) {
	c.mu.Lock()
	c.sent = append(c.sent, phone)
	fn := c.sendFn
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, phone, body)
	}
	return &types.SendResult{MessageID: "msg-" + phone, Timestamp: time.Now()}, nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory builds fakeClients and counts constructions per session.
type fakeFactory struct {
	newErr    error
	gate      chan struct{}
	configure func(c *fakeClient)

	mu          sync.Mutex
	created     map[string]int
	clients     map[string]*fakeClient
	credentials map[string]bool
	removed     []string
	calls       atomic.Int32
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		created:     make(map[string]int),
		clients:     make(map[string]*fakeClient),
		credentials: make(map[string]bool),
	}
}

func (f *fakeFactory) NewClient(ctx context.Context, sessionID string, onEvent types.EventHandler) (types.Client, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.newErr != nil {
		return nil, f.newErr
	}
	c := &fakeClient{sessionID: sessionID, onEvent: onEvent}
	if f.configure != nil {
		f.configure(c)
	}
	f.mu.Lock()
	f.created[sessionID]++
	f.clients[sessionID] = c
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) RemoveCredentials(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sessionID)
	delete(f.credentials, sessionID)
	return nil
}

func (f *fakeFactory) HasCredentials(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credentials[sessionID]
}

func (f *fakeFactory) Client(sessionID string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[sessionID]
}

func (f *fakeFactory) Created(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[sessionID]
}

func (f *fakeFactory) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// staticClients is a ClientLookup over a fixed map.
type staticClients map[string]types.Client

func (s staticClients) Get(sessionID string) (types.Client, bool) {
	c, ok := s[sessionID]
	return c, ok
}

// recordingNotifier keeps every published notification.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Publish(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Event)
	}
	return out
}

func (n *recordingNotifier) Last() Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

// mockLogCleaner
type mockLogCleaner struct {
	mock.Mock
}

func (m *mockLogCleaner) CleanupOldMessageLogs(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTestAccount(t *testing.T, db *database.Database, mutate func(a *models.Account)) *models.Account {
	t.Helper()
	expires := time.Now().UTC().Add(24 * time.Hour)
	account := &models.Account{
		Name:                     "acme",
		APIKeyHash:               "unused",
		Status:                   models.AccountStatusActive,
		ExpiresAt:                &expires,
		DeviceLimit:              5,
		DailyLimit:               100,
		MessagesPerDevice:        2,
		DeviceSwitchDelaySeconds: 0,
	}
	if mutate != nil {
		mutate(account)
	}
	require.NoError(t, db.CreateAccount(context.Background(), account))
	return account
}

func createReadyDevice(t *testing.T, db *database.Database, accountID int64, n int) *models.Device {
	t.Helper()
	ctx := context.Background()
	device := &models.Device{
		AccountID: accountID,
		SessionID: fmt.Sprintf("%d_%d", accountID, n),
		Status:    models.DeviceStatusLoading,
	}
	require.NoError(t, db.CreateDeviceWithinLimit(ctx, device))
	phone := fmt.Sprintf("1555000%04d", n)
	require.NoError(t, db.UpdateDeviceStatus(ctx, device.SessionID, models.DeviceStatusReady, phone))
	device.Status = models.DeviceStatusReady
	device.PhoneNumber = phone
	return device
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
