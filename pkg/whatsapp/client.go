package whatsapp

import (
	"context"
	"fmt"
	"sync"

	"wadispatch/internal/privacy"
	"wadispatch/pkg/constants"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// Client is one whatsmeow session backed by its own credential database.
type Client struct {
	sessionID string
	wa        *whatsmeow.Client
	container *sqlstore.Container
	onEvent   types.EventHandler
	logger    *logrus.Logger

	// ctx outlives Initialize: the QR channel is bound to it.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ types.Client = (*Client)(nil)

// Initialize registers the event handler, opens the pairing channel when the
// store holds no credentials yet, and connects.
func (c *Client) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.wa.AddEventHandler(c.handleEvent)

	if c.wa.Store.ID == nil {
		qrChan, err := c.wa.GetQRChannel(c.ctx)
		if err != nil {
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		go c.pumpQR(qrChan)
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *Client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if ev, ok := translateQRItem(item.Event, item.Code, item.Error); ok {
			c.emit(ev)
		}
	}
}

func (c *Client) handleEvent(evt interface{}) {
	if ev, ok := translateEvent(evt, c.ownPhone); ok {
		c.emit(ev)
	}
}

func (c *Client) emit(ev types.Event) {
	if c.ctx.Err() != nil {
		// closed sessions stay silent
		return
	}
	c.logger.WithFields(logrus.Fields{
		"session": c.sessionID,
		"event":   ev.Kind,
	}).Debug("Provider event")
	c.onEvent(ev)
}

func (c *Client) ownPhone() string {
	if c.wa.Store == nil || c.wa.Store.ID == nil {
		return ""
	}
	return c.wa.Store.ID.User
}

// SendText sends a plain conversation message to <digits>@s.whatsapp.net.
func (c *Client) SendText(ctx context.Context, phoneNumber, body string) (*types.SendResult, error) {
	if !c.wa.IsConnected() || !c.wa.IsLoggedIn() {
		return nil, fmt.Errorf("session %s is not connected", c.sessionID)
	}

	to := waTypes.NewJID(phoneNumber, waTypes.DefaultUserServer)
	msg := &waE2E.Message{Conversation: proto.String(body)}
	c.logger.WithFields(logrus.Fields{
		"session": c.sessionID,
		"jid":     privacy.MaskJID(to.String()),
	}).Debug("Sending text message")

	resp, err := c.wa.SendMessage(ctx, to, msg)
	if err != nil {
		return nil, err
	}
	return &types.SendResult{
		MessageID: string(resp.ID),
		Timestamp: resp.Timestamp,
	}, nil
}

// Close disconnects and releases the credential store.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wa.Disconnect()
		if err := c.container.Close(); err != nil {
			c.logger.WithError(err).WithField("session", c.sessionID).Warn("Failed to close credential store")
		}
	})
}

// translateQRItem maps a pairing channel item to a lifecycle event.
func translateQRItem(event, code string, err error) (types.Event, bool) {
	switch event {
	case constants.QRChannelEventCode:
		return types.Event{Kind: types.EventQR, QRCode: code}, true
	case constants.QRChannelEventSuccess:
		// events.Connected follows once the paired session logs in
		return types.Event{}, false
	case constants.QRChannelEventTimeout:
		return types.Event{Kind: types.EventAuthFailed, Reason: "QR code was not scanned in time"}, true
	default:
		reason := event
		if err != nil {
			reason = err.Error()
		}
		return types.Event{Kind: types.EventAuthFailed, Reason: "pairing failed: " + reason}, true
	}
}

// translateEvent maps whatsmeow events to lifecycle events. Events that do
// not affect the session lifecycle are ignored.
func translateEvent(evt interface{}, ownPhone func() string) (types.Event, bool) {
	switch v := evt.(type) {
	case *events.Connected:
		return types.Event{Kind: types.EventReady, PhoneNumber: ownPhone()}, true
	case *events.Disconnected:
		return types.Event{Kind: types.EventDisconnected, Reason: "connection lost"}, true
	case *events.StreamReplaced:
		return types.Event{Kind: types.EventDisconnected, Reason: "session opened elsewhere"}, true
	case *events.LoggedOut:
		return types.Event{Kind: types.EventAuthFailed, Reason: fmt.Sprintf("logged out (reason %d)", int(v.Reason))}, true
	case *events.ConnectFailure:
		return types.Event{Kind: types.EventAuthFailed, Reason: fmt.Sprintf("connect failure %d: %s", int(v.Reason), v.Message)}, true
	case *events.TemporaryBan:
		return types.Event{Kind: types.EventAuthFailed, Reason: fmt.Sprintf("temporarily banned for %s", v.Expire)}, true
	case *events.ClientOutdated:
		return types.Event{Kind: types.EventAuthFailed, Reason: "client version outdated"}, true
	default:
		return types.Event{}, false
	}
}
