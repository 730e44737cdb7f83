// Package realtime pushes session notifications to the owning account's
// websocket viewers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"wadispatch/internal/metrics"
	"wadispatch/internal/service"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultBufferSize   = 16
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Options tunes a Hub. Zero values pick the defaults.
type Options struct {
	BufferSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OriginPatterns []string
}

type subscriber struct {
	ch chan []byte
}

// Hub fans notifications out per account. Delivery is at most once:
// a subscriber whose buffer is full misses the message.
type Hub struct {
	logger *logrus.Logger
	opts   Options

	mu     sync.RWMutex
	subs   map[int64]map[*subscriber]struct{}
	closed bool
}

var _ service.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger, opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Hub{
		logger: logger,
		opts:   opts,
		subs:   make(map[int64]map[*subscriber]struct{}),
	}
}

// Publish never blocks.
func (h *Hub) Publish(n service.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		h.logger.WithError(err).WithField(service.LogFieldEvent, n.Event).Error("Failed to encode notification")
		return
	}

	// Sends happen under the read lock so unsubscribe cannot close a
	// channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[n.AccountID] {
		select {
		case sub.ch <- payload:
		default:
			metrics.IncrementCounter("notifications_dropped_total", map[string]string{
				"event": n.Event,
			}, "Notifications dropped for slow viewers")
		}
	}
}

// Subscribe registers a viewer for accountID. The returned channel is
// closed by the cancel func or by Close.
func (h *Hub) Subscribe(accountID int64) (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, h.opts.BufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if h.subs[accountID] == nil {
		h.subs[accountID] = make(map[*subscriber]struct{})
	}
	h.subs[accountID][sub] = struct{}{}
	h.mu.Unlock()
	h.reportConnections()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[accountID]; ok {
				if _, ok := set[sub]; ok {
					delete(set, sub)
					close(sub.ch)
				}
				if len(set) == 0 {
					delete(h.subs, accountID)
				}
			}
			h.mu.Unlock()
			h.reportConnections()
		})
	}
}

// Subscribers returns the number of viewers for accountID.
func (h *Hub) Subscribers(accountID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}

// Close disconnects every viewer and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for accountID, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, accountID)
	}
	h.mu.Unlock()
	h.reportConnections()
}

func (h *Hub) reportConnections() {
	h.mu.RLock()
	total := 0
	for _, set := range h.subs {
		total += len(set)
	}
	h.mu.RUnlock()
	metrics.SetGauge("websocket_connections", float64(total), nil, "Open notification websockets")
}

// ServeWS upgrades the request and streams accountID's notifications
// until the client goes away or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, accountID int64) {
	// Server read/write timeouts would otherwise cut long-lived viewers.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.WithError(err).WithField(service.LogFieldAccountID, accountID).Warn("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := h.Subscribe(accountID)
	defer unsubscribe()

	logger := h.logger.WithField(service.LogFieldAccountID, accountID)
	logger.Debug("Notification viewer connected")

	// Viewers never send; CloseRead handles control frames and cancels
	// ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Notification viewer disconnected")
			return
		case payload, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, payload); err != nil {
				logger.WithError(err).Debug("Failed to write notification")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("Notification viewer ping failed")
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
