package service

import (
	"context"
	"sync"

	"wadispatch/internal/metrics"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// SessionEventHandler receives provider events tagged with their session id.
type SessionEventHandler func(sessionID string, ev types.Event)

// registryEntry is reserved before its client exists so that concurrent
// Start calls for one session observe each other.
type registryEntry struct {
	client types.Client
}

// SessionRegistry owns the live provider clients of this process, keyed by
// session id. At most one client exists per session id.
type SessionRegistry struct {
	factory types.ClientFactory
	logger  *logrus.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
	handler SessionEventHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSessionRegistry(factory types.ClientFactory, logger *logrus.Logger) *SessionRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionRegistry{
		factory: factory,
		logger:  logger,
		entries: make(map[string]*registryEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetEventHandler installs the receiver of provider events. It must be set
// before the first Start.
func (r *SessionRegistry) SetEventHandler(h SessionEventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Start begins initializing a client for sessionID unless one is already
// registered. It returns true when a new initialization was started.
// Construction and connection happen off the caller's goroutine; failures
// surface only as an EventInitFailed.
func (r *SessionRegistry) Start(sessionID string) bool {
	r.mu.Lock()
	if _, exists := r.entries[sessionID]; exists {
		r.mu.Unlock()
		r.logger.WithField(LogFieldSession, sessionID).Debug("Skipping session start: already registered")
		return false
	}
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return false
	}
	entry := &registryEntry{}
	r.entries[sessionID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.SetGauge("registry_sessions", float64(r.Count()), nil, "Sessions held by the registry")
	go r.initialize(sessionID, entry)
	return true
}

func (r *SessionRegistry) initialize(sessionID string, entry *registryEntry) {
	defer r.wg.Done()

	log := r.logger.WithField(LogFieldSession, sessionID)
	log.Info("Starting session client")

	client, err := r.factory.NewClient(r.ctx, sessionID, func(ev types.Event) {
		r.dispatch(sessionID, entry, ev)
	})
	if err != nil {
		log.WithError(err).Error("Failed to create session client")
		r.dispatch(sessionID, entry, types.Event{Kind: types.EventInitFailed, Reason: err.Error()})
		return
	}

	r.mu.Lock()
	if r.entries[sessionID] != entry {
		// removed while the client was being built
		r.mu.Unlock()
		client.Close()
		return
	}
	entry.client = client
	r.mu.Unlock()

	if err := client.Initialize(r.ctx); err != nil {
		log.WithError(err).Error("Failed to initialize session client")
		r.dispatch(sessionID, entry, types.Event{Kind: types.EventInitFailed, Reason: err.Error()})
	}
}

// dispatch forwards an event if entry is still the registered one, so that
// late events from a replaced client are dropped.
func (r *SessionRegistry) dispatch(sessionID string, entry *registryEntry, ev types.Event) {
	r.mu.Lock()
	current := r.entries[sessionID] == entry
	handler := r.handler
	r.mu.Unlock()

	if !current || handler == nil {
		return
	}
	handler(sessionID, ev)
}

// Get returns the live client for sessionID. Absence means the session is
// not usable right now; it is not an error.
func (r *SessionRegistry) Get(sessionID string) (types.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok || entry.client == nil {
		return nil, false
	}
	return entry.client, true
}

// Has reports whether sessionID is registered, including while its client is
// still being constructed.
func (r *SessionRegistry) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[sessionID]
	return ok
}

// Remove unregisters sessionID and closes its client. Device records are not
// touched.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()

	if !ok {
		return
	}
	metrics.SetGauge("registry_sessions", float64(r.Count()), nil, "Sessions held by the registry")
	if entry.client != nil {
		entry.client.Close()
	}
	r.logger.WithField(LogFieldSession, sessionID).Debug("Session removed from registry")
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown closes every client and waits for pending initializations.
func (r *SessionRegistry) Shutdown() {
	r.cancel()

	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
	r.wg.Wait()
	r.logger.WithField(LogFieldCount, len(ids)).Info("Session registry shut down")
}
