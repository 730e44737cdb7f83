package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// SessionStarter is the part of the registry the device service drives.
type SessionStarter interface {
	Start(sessionID string) bool
	Has(sessionID string) bool
	Remove(sessionID string)
}

// DeviceService attaches, reconnects, deletes and restores devices.
type DeviceService struct {
	accounts AccountStore
	devices  DeviceStore
	registry SessionStarter
	factory  types.ClientFactory
	logger   *logrus.Logger
	now      func() time.Time
}

func NewDeviceService(accounts AccountStore, devices DeviceStore, registry SessionStarter, factory types.ClientFactory, logger *logrus.Logger) *DeviceService {
	return &DeviceService{
		accounts: accounts,
		devices:  devices,
		registry: registry,
		factory:  factory,
		logger:   logger,
		now:      time.Now,
	}
}

// AttachDevice creates a device record in the loading state and starts its
// provider session. The pairing challenge arrives later as a qr_code
// notification.
func (s *DeviceService) AttachDevice(ctx context.Context, accountID int64) (*models.Device, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, errors.NewDatabaseError("get account", err)
	}
	if account == nil {
		return nil, errors.NewNotFoundError("account", fmt.Sprint(accountID))
	}

	device := &models.Device{
		AccountID: accountID,
		SessionID: fmt.Sprintf("%d_%d", accountID, s.now().UnixMilli()),
		Status:    models.DeviceStatusLoading,
	}
	if err := s.devices.CreateDeviceWithinLimit(ctx, device); err != nil {
		if stderrors.Is(err, database.ErrDeviceLimitReached) {
			return nil, errors.NewDeviceLimitError(account.DeviceLimit)
		}
		return nil, errors.NewDatabaseError("create device", err)
	}

	s.registry.Start(device.SessionID)

	s.logger.WithFields(logrus.Fields{
		LogFieldAccountID: accountID,
		LogFieldSession:   device.SessionID,
	}).Info("Device attached")
	return device, nil
}

// ListDevices returns the account's devices in creation order.
func (s *DeviceService) ListDevices(ctx context.Context, accountID int64) ([]models.Device, error) {
	devices, err := s.devices.ListDevices(ctx, accountID)
	if err != nil {
		return nil, errors.NewDatabaseError("list devices", err)
	}
	if devices == nil {
		devices = []models.Device{}
	}
	return devices, nil
}

// ReconnectDevice restarts the session of a device owned by the account. A
// session that is still registered is left alone.
func (s *DeviceService) ReconnectDevice(ctx context.Context, accountID int64, sessionID string) (*models.Device, error) {
	device, err := s.devices.GetAccountDevice(ctx, accountID, sessionID)
	if err != nil {
		return nil, errors.NewDatabaseError("get device", err)
	}
	if device == nil {
		return nil, errors.NewNotFoundError("device", sessionID)
	}

	log := s.logger.WithFields(logrus.Fields{
		LogFieldAccountID: accountID,
		LogFieldSession:   sessionID,
	})
	if s.registry.Has(sessionID) {
		log.Debug("Skipping reconnect: session already registered")
		return device, nil
	}

	if err := s.devices.UpdateDeviceStatus(ctx, sessionID, models.DeviceStatusLoading, ""); err != nil {
		if stderrors.Is(err, database.ErrDeviceNotFound) {
			return nil, errors.NewNotFoundError("device", sessionID)
		}
		return nil, errors.NewDatabaseError("update device status", err)
	}
	device.Status = models.DeviceStatusLoading
	s.registry.Start(sessionID)
	log.Info("Device reconnecting")
	return device, nil
}

// DeleteDevice releases the live client, deletes the record and removes the
// stored credentials in the background. Credential cleanup failures are
// logged only.
func (s *DeviceService) DeleteDevice(ctx context.Context, accountID int64, sessionID string) error {
	device, err := s.devices.GetAccountDevice(ctx, accountID, sessionID)
	if err != nil {
		return errors.NewDatabaseError("get device", err)
	}
	if device == nil {
		return errors.NewNotFoundError("device", sessionID)
	}

	s.registry.Remove(sessionID)

	if err := s.devices.DeleteDevice(ctx, accountID, sessionID); err != nil {
		if stderrors.Is(err, database.ErrDeviceNotFound) {
			return errors.NewNotFoundError("device", sessionID)
		}
		return errors.NewDatabaseError("delete device", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		LogFieldAccountID: accountID,
		LogFieldSession:   sessionID,
	})
	go func() {
		if err := s.factory.RemoveCredentials(sessionID); err != nil {
			log.WithError(err).Warn("Failed to remove session credentials")
		}
	}()

	log.Info("Device deleted")
	return nil
}

// RestoreSessions restarts every device that is not in the error state and
// still has stored credentials. Devices without credentials are marked
// disconnected so they can be reconnected (and re-paired) explicitly.
func (s *DeviceService) RestoreSessions(ctx context.Context) (int, error) {
	devices, err := s.devices.ListRestorableDevices(ctx)
	if err != nil {
		return 0, errors.NewDatabaseError("list restorable devices", err)
	}

	restored := 0
	for _, d := range devices {
		if !s.factory.HasCredentials(d.SessionID) {
			if d.Status != models.DeviceStatusDisconnected {
				if err := s.devices.UpdateDeviceStatus(ctx, d.SessionID, models.DeviceStatusDisconnected, ""); err != nil {
					s.logger.WithError(err).WithField(LogFieldSession, d.SessionID).Warn("Failed to mark device disconnected")
				}
			}
			continue
		}
		if err := s.devices.UpdateDeviceStatus(ctx, d.SessionID, models.DeviceStatusLoading, ""); err != nil {
			s.logger.WithError(err).WithField(LogFieldSession, d.SessionID).Warn("Failed to mark device loading")
			continue
		}
		if s.registry.Start(d.SessionID) {
			restored++
		}
	}

	s.logger.WithField(LogFieldCount, restored).Info("Restored device sessions")
	return restored, nil
}
