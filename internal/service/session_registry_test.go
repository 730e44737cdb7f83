package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wadispatch/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *eventLog) handle(sessionID string, ev types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []types.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestSessionRegistry_ConcurrentStartBuildsOneClient(t *testing.T) {
	factory := newFakeFactory()
	factory.gate = make(chan struct{})
	registry := NewSessionRegistry(factory, quietLogger())
	defer registry.Shutdown()

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if registry.Start("42_1") {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	close(factory.gate)

	assert.Equal(t, int32(1), started.Load())
	assert.Eventually(t, func() bool {
		_, ok := registry.Get("42_1")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), factory.calls.Load())
	assert.Equal(t, 1, registry.Count())
}

func TestSessionRegistry_HasWhileConstructing(t *testing.T) {
	factory := newFakeFactory()
	factory.gate = make(chan struct{})
	registry := NewSessionRegistry(factory, quietLogger())
	defer registry.Shutdown()

	require.True(t, registry.Start("s"))

	assert.True(t, registry.Has("s"))
	_, ok := registry.Get("s")
	assert.False(t, ok, "client is not usable until constructed")

	close(factory.gate)
}

func TestSessionRegistry_RemoveWhileConstructingClosesLateClient(t *testing.T) {
	factory := newFakeFactory()
	factory.gate = make(chan struct{})
	registry := NewSessionRegistry(factory, quietLogger())
	defer registry.Shutdown()

	require.True(t, registry.Start("s"))
	registry.Remove("s")
	close(factory.gate)

	assert.Eventually(t, func() bool {
		c := factory.Client("s")
		return c != nil && c.Closed()
	}, time.Second, 5*time.Millisecond)
	_, ok := registry.Get("s")
	assert.False(t, ok)
}

func TestSessionRegistry_InitFailureEmitsEvent(t *testing.T) {
	t.Run("factory error", func(t *testing.T) {
		factory := newFakeFactory()
		factory.newErr = errors.New("store unavailable")
		registry := NewSessionRegistry(factory, quietLogger())
		defer registry.Shutdown()

		events := &eventLog{}
		registry.SetEventHandler(events.handle)
		require.True(t, registry.Start("s"))

		assert.Eventually(t, func() bool {
			return len(events.kinds()) == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, []types.EventKind{types.EventInitFailed}, events.kinds())
	})

	t.Run("initialize error", func(t *testing.T) {
		factory := newFakeFactory()
		factory.configure = func(c *fakeClient) { c.initErr = errors.New("connect refused") }
		registry := NewSessionRegistry(factory, quietLogger())
		defer registry.Shutdown()

		events := &eventLog{}
		registry.SetEventHandler(events.handle)
		require.True(t, registry.Start("s"))

		assert.Eventually(t, func() bool {
			return len(events.kinds()) == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, types.EventInitFailed, events.kinds()[0])
	})
}

func TestSessionRegistry_DropsEventsFromRemovedClient(t *testing.T) {
	factory := newFakeFactory()
	registry := NewSessionRegistry(factory, quietLogger())
	defer registry.Shutdown()

	events := &eventLog{}
	registry.SetEventHandler(events.handle)
	require.True(t, registry.Start("s"))
	require.Eventually(t, func() bool { return factory.Client("s") != nil }, time.Second, 5*time.Millisecond)

	client := factory.Client("s")
	client.onEvent(types.Event{Kind: types.EventQR, QRCode: "code"})
	registry.Remove("s")
	client.onEvent(types.Event{Kind: types.EventReady, PhoneNumber: "15550001"})

	assert.Equal(t, []types.EventKind{types.EventQR}, events.kinds())
	assert.True(t, client.Closed())
}

func TestSessionRegistry_StartAfterRemoveBuildsFreshClient(t *testing.T) {
	factory := newFakeFactory()
	registry := NewSessionRegistry(factory, quietLogger())
	defer registry.Shutdown()

	require.True(t, registry.Start("s"))
	require.Eventually(t, func() bool { return factory.Created("s") == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, registry.Start("s"))

	registry.Remove("s")
	require.True(t, registry.Start("s"))
	assert.Eventually(t, func() bool { return factory.Created("s") == 2 }, time.Second, 5*time.Millisecond)
}

func TestSessionRegistry_ShutdownClosesClients(t *testing.T) {
	factory := newFakeFactory()
	registry := NewSessionRegistry(factory, quietLogger())

	for _, id := range []string{"a", "b"} {
		require.True(t, registry.Start(id))
	}
	require.Eventually(t, func() bool {
		_, okA := registry.Get("a")
		_, okB := registry.Get("b")
		return okA && okB
	}, time.Second, 5*time.Millisecond)

	registry.Shutdown()

	assert.Equal(t, 0, registry.Count())
	assert.True(t, factory.Client("a").Closed())
	assert.True(t, factory.Client("b").Closed())
	assert.False(t, registry.Start("c"), "a shut down registry accepts no sessions")
}
