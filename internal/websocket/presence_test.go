package websocket

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDebounce = 60 * time.Millisecond

func newTestPresence(t *testing.T) (*PresenceTracker, *SessionRegistry, *fakeBroadcaster) {
	t.Helper()
	reg := NewSessionRegistry(nil)
	b := &fakeBroadcaster{}
	p := NewPresenceTracker(testDebounce, reg, staticContacts{1: {2, 3}}, b, zap.NewNop(), nil)
	t.Cleanup(p.Stop)
	return p, reg, b
}

func TestPresence_ConnectAnnouncesOnce(t *testing.T) {
	p, reg, b := newTestPresence(t)

	c := newMockConn(1)
	reg.Register(1, c)
	p.Connected(1)
	p.Connected(1)

	assert.Equal(t, Online, p.State(1))
	assert.Equal(t, 1, b.presence(true))

	b.mu.Lock()
	assert.Equal(t, []int64{2, 3}, b.calls[0].recipients)
	b.mu.Unlock()
}

func TestPresence_ReconnectInsideWindowIsSilent(t *testing.T) {
	p, reg, b := newTestPresence(t)

	first := newMockConn(1)
	reg.Register(1, first)
	p.Connected(1)

	require.True(t, reg.Unregister(1, first))
	p.Disconnected(1)
	assert.Equal(t, PendingOffline, p.State(1))

	second := newMockConn(1)
	reg.Register(1, second)
	p.Connected(1)
	assert.Equal(t, Online, p.State(1))

	assert.Never(t, func() bool { return b.presence(false) > 0 }, 3*testDebounce, 10*time.Millisecond)
	assert.Equal(t, 1, b.presence(true))
}

func TestPresence_OfflineAfterWindow(t *testing.T) {
	p, reg, b := newTestPresence(t)

	c := newMockConn(1)
	reg.Register(1, c)
	p.Connected(1)

	reg.Unregister(1, c)
	p.Disconnected(1)

	assert.Eventually(t, func() bool { return b.presence(false) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Offline, p.State(1))

	time.Sleep(2 * testDebounce)
	assert.Equal(t, 1, b.presence(false))
}

func TestPresence_DisconnectWhileStillRegisteredIgnored(t *testing.T) {
	p, reg, b := newTestPresence(t)

	first := newMockConn(1)
	reg.Register(1, first)
	p.Connected(1)

	// the evicted connection's teardown runs after its successor registered
	reg.Register(1, newMockConn(1))
	assert.False(t, reg.Unregister(1, first))
	p.Disconnected(1)

	assert.Equal(t, Online, p.State(1))
	assert.Never(t, func() bool { return b.presence(false) > 0 }, 3*testDebounce, 10*time.Millisecond)
}

func TestPresence_StopCancelsPendingOffline(t *testing.T) {
	p, reg, b := newTestPresence(t)

	c := newMockConn(1)
	reg.Register(1, c)
	p.Connected(1)
	reg.Unregister(1, c)
	p.Disconnected(1)

	p.Stop()
	assert.Never(t, func() bool { return b.presence(false) > 0 }, 3*testDebounce, 10*time.Millisecond)
}

// gatedContacts parks the n-th lookup until release is closed.
type gatedContacts struct {
	staticContacts
	calls   atomic.Int32
	block   int32
	loading chan struct{}
	release chan struct{}
}

func (g *gatedContacts) GetContactIDs(ctx context.Context, userID int64) ([]int64, error) {
	if g.calls.Add(1) == g.block {
		close(g.loading)
		<-g.release
	}
	return g.staticContacts.GetContactIDs(ctx, userID)
}

func newGatedPresence(t *testing.T, block int32) (*PresenceTracker, *SessionRegistry, *fakeBroadcaster, *gatedContacts) {
	t.Helper()
	reg := NewSessionRegistry(nil)
	b := &fakeBroadcaster{}
	g := &gatedContacts{
		staticContacts: staticContacts{1: {2, 3}},
		block:          block,
		loading:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	p := NewPresenceTracker(testDebounce, reg, g, b, zap.NewNop(), nil)
	t.Cleanup(p.Stop)
	return p, reg, b, g
}

func waitLoading(t *testing.T, g *gatedContacts) {
	t.Helper()
	select {
	case <-g.loading:
	case <-time.After(time.Second):
		t.Fatal("contact lookup never started")
	}
}

func TestPresence_ReconnectDuringOfflineAnnouncement(t *testing.T) {
	// lookup 1 is the initial online announcement, lookup 2 the offline one
	p, reg, b, g := newGatedPresence(t, 2)

	first := newMockConn(1)
	reg.Register(1, first)
	p.Connected(1)
	require.True(t, reg.Unregister(1, first))
	p.Disconnected(1)

	waitLoading(t, g)
	assert.Equal(t, Offline, p.State(1))

	reg.Register(1, newMockConn(1))
	p.Connected(1)
	close(g.release)

	assert.Never(t, func() bool { return b.presence(false) > 0 }, 3*testDebounce, 10*time.Millisecond)
	assert.Equal(t, 1, b.presence(true))
	assert.Equal(t, Online, p.State(1))
}

func TestPresence_OfflineDuringOnlineAnnouncement(t *testing.T) {
	p, reg, b, g := newGatedPresence(t, 1)

	c := newMockConn(1)
	reg.Register(1, c)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Connected(1)
	}()
	waitLoading(t, g)

	require.True(t, reg.Unregister(1, c))
	p.Disconnected(1)
	require.Eventually(t, func() bool { return p.State(1) == Offline }, time.Second, 5*time.Millisecond)
	close(g.release)
	<-done

	// neither side announced: contacts never saw the user online
	assert.Never(t, func() bool { return b.presence(true)+b.presence(false) > 0 }, 3*testDebounce, 10*time.Millisecond)
}

func TestPresenceState_String(t *testing.T) {
	assert.Equal(t, "offline", Offline.String())
	assert.Equal(t, "online", Online.String())
	assert.Equal(t, "pending_offline", PendingOffline.String())
}
