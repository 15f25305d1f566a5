package websocket

import (
	"testing"

	"groupchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SecondRegistrationEvictsFirst(t *testing.T) {
	r := NewSessionRegistry(nil)
	first := newMockConn(1)
	second := newMockConn(1)

	assert.Nil(t, r.Register(1, first))
	evicted := r.Register(1, second)
	require.Equal(t, Conn(first), evicted)

	closed, code := first.closedWith()
	assert.True(t, closed)
	assert.Equal(t, models.CloseReplacedElsewhere, code)

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_StaleUnregisterIsNoop(t *testing.T) {
	r := NewSessionRegistry(nil)
	first := newMockConn(1)
	second := newMockConn(1)
	r.Register(1, first)
	r.Register(1, second)

	assert.False(t, r.Unregister(1, first))
	assert.True(t, r.IsOnline(1))

	assert.True(t, r.Unregister(1, second))
	assert.False(t, r.IsOnline(1))
	assert.False(t, r.Unregister(1, second))
}

func TestRegistry_ReRegisterSameConn(t *testing.T) {
	r := NewSessionRegistry(nil)
	c := newMockConn(1)
	r.Register(1, c)
	assert.Nil(t, r.Register(1, c))

	closed, _ := c.closedWith()
	assert.False(t, closed)
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewSessionRegistry(nil)
	r.Register(1, newMockConn(1))
	r.Register(2, newMockConn(2))

	snap := r.Snapshot()
	assert.Len(t, snap, 2)

	r.Register(3, newMockConn(3))
	delete(snap, 1)
	assert.Len(t, snap, 1)
	assert.Equal(t, 3, r.Len())
	assert.True(t, r.IsOnline(1))
}
