package service

import (
	"context"
	"testing"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeviceServiceForTest(t *testing.T, deviceLimit int) (*DeviceService, *SessionRegistry, *fakeFactory, *models.Account) {
	t.Helper()
	db := setupTestDB(t)
	account := createTestAccount(t, db, func(a *models.Account) { a.DeviceLimit = deviceLimit })
	factory := newFakeFactory()
	registry := NewSessionRegistry(factory, quietLogger())
	t.Cleanup(registry.Shutdown)

	svc := NewDeviceService(db, db, registry, factory, quietLogger())
	return svc, registry, factory, account
}

func TestDeviceService_AttachDevice(t *testing.T) {
	svc, registry, factory, account := newDeviceServiceForTest(t, 2)
	ctx := context.Background()

	device, err := svc.AttachDevice(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusLoading, device.Status)
	assert.Equal(t, account.ID, device.AccountID)
	assert.Contains(t, device.SessionID, "_")

	assert.True(t, registry.Has(device.SessionID))
	assert.Eventually(t, func() bool { return factory.Created(device.SessionID) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDeviceService_AttachDeviceRespectsLimit(t *testing.T) {
	svc, _, _, account := newDeviceServiceForTest(t, 1)
	ctx := context.Background()

	step := time.Unix(1700000000, 0)
	svc.now = func() time.Time {
		step = step.Add(time.Millisecond)
		return step
	}

	_, err := svc.AttachDevice(ctx, account.ID)
	require.NoError(t, err)

	_, err = svc.AttachDevice(ctx, account.ID)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDeviceLimitReached))

	devices, err := svc.ListDevices(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestDeviceService_AttachDeviceUnknownAccount(t *testing.T) {
	svc, _, _, _ := newDeviceServiceForTest(t, 1)

	_, err := svc.AttachDevice(context.Background(), 9999)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestDeviceService_ListDevicesEmpty(t *testing.T) {
	svc, _, _, account := newDeviceServiceForTest(t, 1)

	devices, err := svc.ListDevices(context.Background(), account.ID)
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
}

func TestDeviceService_ReconnectDevice(t *testing.T) {
	svc, registry, factory, account := newDeviceServiceForTest(t, 2)
	ctx := context.Background()

	device, err := svc.AttachDevice(ctx, account.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return factory.Created(device.SessionID) == 1 }, time.Second, 5*time.Millisecond)

	t.Run("no-op while registered", func(t *testing.T) {
		current, err := svc.devices.GetDevice(ctx, device.SessionID)
		require.NoError(t, err)

		got, err := svc.ReconnectDevice(ctx, account.ID, device.SessionID)
		require.NoError(t, err)
		assert.Equal(t, current.Status, got.Status, "a no-op reconnect reports the status it left alone")
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, factory.Created(device.SessionID))
	})

	t.Run("restarts released session", func(t *testing.T) {
		registry.Remove(device.SessionID)
		require.NoError(t, svc.devices.UpdateDeviceStatus(ctx, device.SessionID, models.DeviceStatusDisconnected, ""))

		reconnected, err := svc.ReconnectDevice(ctx, account.ID, device.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.DeviceStatusLoading, reconnected.Status)
		assert.Eventually(t, func() bool { return factory.Created(device.SessionID) == 2 }, time.Second, 5*time.Millisecond)

		got, err := svc.devices.GetDevice(ctx, device.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.DeviceStatusLoading, got.Status)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := svc.ReconnectDevice(ctx, account.ID, "missing")
		assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
	})

	t.Run("other account's session", func(t *testing.T) {
		_, err := svc.ReconnectDevice(ctx, account.ID+1, device.SessionID)
		assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
	})
}

func TestDeviceService_DeleteDevice(t *testing.T) {
	svc, registry, factory, account := newDeviceServiceForTest(t, 2)
	ctx := context.Background()

	device, err := svc.AttachDevice(ctx, account.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := registry.Get(device.SessionID)
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.DeleteDevice(ctx, account.ID, device.SessionID))

	got, err := svc.devices.GetDevice(ctx, device.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, registry.Has(device.SessionID))
	assert.True(t, factory.Client(device.SessionID).Closed())
	assert.Eventually(t, func() bool {
		return len(factory.Removed()) == 1
	}, time.Second, 5*time.Millisecond)

	err = svc.DeleteDevice(ctx, account.ID, device.SessionID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestDeviceService_RestoreSessions(t *testing.T) {
	svc, registry, factory, account := newDeviceServiceForTest(t, 5)
	ctx := context.Background()
	db := svc.devices

	withCreds := &models.Device{AccountID: account.ID, SessionID: "r_1", Status: models.DeviceStatusLoading}
	withoutCreds := &models.Device{AccountID: account.ID, SessionID: "r_2", Status: models.DeviceStatusLoading}
	failed := &models.Device{AccountID: account.ID, SessionID: "r_3", Status: models.DeviceStatusLoading}
	for _, d := range []*models.Device{withCreds, withoutCreds, failed} {
		require.NoError(t, db.CreateDeviceWithinLimit(ctx, d))
	}
	require.NoError(t, db.UpdateDeviceStatus(ctx, "r_1", models.DeviceStatusReady, "15550001"))
	require.NoError(t, db.UpdateDeviceStatus(ctx, "r_3", models.DeviceStatusError, ""))

	factory.mu.Lock()
	factory.credentials["r_1"] = true
	factory.credentials["r_3"] = true
	factory.mu.Unlock()

	restored, err := svc.RestoreSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	assert.True(t, registry.Has("r_1"))
	assert.False(t, registry.Has("r_2"))
	assert.False(t, registry.Has("r_3"))

	got, err := db.GetDevice(ctx, "r_1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusLoading, got.Status)

	got, err = db.GetDevice(ctx, "r_2")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusDisconnected, got.Status)

	got, err = db.GetDevice(ctx, "r_3")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusError, got.Status)
}
