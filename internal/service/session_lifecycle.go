package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"wadispatch/internal/database"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// Transition is the outcome of applying one provider event to a device state.
type Transition struct {
	Next         models.DeviceStatus
	PhoneNumber  string
	Release      bool   // drop the registry entry and close the client
	Notification string // empty when nothing is published
}

// Reduce is the device lifecycle state machine. It returns false when the
// event does not apply to the current state and must be ignored.
//
//	loading|needs_qr      + qr            -> needs_qr      (publish qr_code)
//	loading|needs_qr      + ready         -> ready         (publish client_ready)
//	loading|needs_qr|ready + disconnected -> disconnected  (release, publish client_disconnected)
//	any                   + auth_failed   -> error         (release)
//	any                   + init_failed   -> error         (release)
func Reduce(current models.DeviceStatus, ev types.Event) (Transition, bool) {
	pairing := current == models.DeviceStatusLoading || current == models.DeviceStatusNeedsQR

	switch ev.Kind {
	case types.EventQR:
		if pairing {
			return Transition{Next: models.DeviceStatusNeedsQR, Notification: NotificationQRCode}, true
		}
	case types.EventReady:
		if pairing {
			return Transition{Next: models.DeviceStatusReady, PhoneNumber: ev.PhoneNumber, Notification: NotificationClientReady}, true
		}
	case types.EventDisconnected:
		if pairing || current == models.DeviceStatusReady {
			return Transition{Next: models.DeviceStatusDisconnected, Release: true, Notification: NotificationClientDisconnected}, true
		}
	case types.EventAuthFailed, types.EventInitFailed:
		return Transition{Next: models.DeviceStatusError, Release: true}, true
	}
	return Transition{}, false
}

// SessionReleaser removes a session from the live registry.
type SessionReleaser interface {
	Remove(sessionID string)
}

// LifecycleController applies provider events to device records, the
// registry and the notification sink. Events are applied one at a time.
type LifecycleController struct {
	devices  DeviceStore
	registry SessionReleaser
	notifier Notifier
	logger   *logrus.Logger
	timeout  time.Duration

	mu sync.Mutex
}

func NewLifecycleController(devices DeviceStore, registry SessionReleaser, notifier Notifier, logger *logrus.Logger) *LifecycleController {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &LifecycleController{
		devices:  devices,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		timeout:  10 * time.Second,
	}
}

// HandleEvent is installed as the registry's event handler.
func (c *LifecycleController) HandleEvent(sessionID string, ev types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	log := c.logger.WithFields(logrus.Fields{
		LogFieldSession: sessionID,
		LogFieldEvent:   ev.Kind,
	})

	device, err := c.devices.GetDevice(ctx, sessionID)
	if err != nil {
		log.WithError(err).Error("Failed to load device for lifecycle event")
		return
	}
	if device == nil {
		// the device was deleted; nothing may keep its client alive
		c.registry.Remove(sessionID)
		log.Debug("Skipping lifecycle event: device no longer exists")
		return
	}

	tr, ok := Reduce(device.Status, ev)
	if !ok {
		log.WithField(LogFieldFromStatus, device.Status).Debug("Skipping lifecycle event: not applicable in current state")
		return
	}

	metrics.IncrementCounter("session_transitions_total", map[string]string{"to": string(tr.Next)}, "Device lifecycle transitions")

	if tr.Release {
		c.registry.Remove(sessionID)
	}

	if err := c.devices.UpdateDeviceStatus(ctx, sessionID, tr.Next, tr.PhoneNumber); err != nil {
		if stderrors.Is(err, database.ErrDeviceNotFound) {
			c.registry.Remove(sessionID)
			log.Debug("Device deleted while applying lifecycle event")
			return
		}
		log.WithError(err).Error("Failed to persist device status")
		return
	}

	entry := log.WithFields(logrus.Fields{
		LogFieldFromStatus: device.Status,
		LogFieldToStatus:   tr.Next,
	})
	if ev.Reason != "" {
		entry = entry.WithField(LogFieldReason, ev.Reason)
	}
	if tr.Next == models.DeviceStatusError {
		entry.Warn("Session failed")
	} else {
		entry.Info("Session state changed")
	}

	if tr.Notification == "" {
		return
	}
	data := map[string]interface{}{"sessionId": sessionID}
	switch tr.Notification {
	case NotificationQRCode:
		data["qr"] = ev.QRCode
	case NotificationClientReady:
		data["phoneNumber"] = ev.PhoneNumber
	}
	c.notifier.Publish(Notification{
		Event:     tr.Notification,
		AccountID: device.AccountID,
		SessionID: sessionID,
		Data:      data,
	})
}
