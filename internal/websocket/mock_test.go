package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"groupchat/internal/models"

	"github.com/stretchr/testify/require"
)

// wireEvent decodes any outbound event for assertions.
type wireEvent struct {
	Type          string      `json:"type"`
	CorrelationID string      `json:"correlationId"`
	RoomID        int64       `json:"roomId"`
	SequenceID    int64       `json:"sequenceId"`
	SenderID      int64       `json:"senderId"`
	Text          string      `json:"text"`
	UserID        int64       `json:"userId"`
	Online        bool        `json:"online"`
	Users         []int64     `json:"users"`
	Messages      []wireEvent `json:"messages"`
	HasMore       bool        `json:"hasMore"`
}

type mockConn struct {
	id     string
	userID int64

	mu          sync.Mutex
	sent        [][]byte
	closed      bool
	closeCode   int
	closeReason string
	failSend    bool
}

var _ Conn = (*mockConn)(nil)

var mockSeq int

func newMockConn(userID int64) *mockConn {
	mockSeq++
	return &mockConn{id: fmt.Sprintf("mock-%d-%d", userID, mockSeq), userID: userID}
}

func (m *mockConn) ID() string    { return m.id }
func (m *mockConn) UserID() int64 { return m.userID }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnClosed
	}
	if m.failSend {
		return errors.New("write: broken pipe")
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close(code int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.closeCode = code
	m.closeReason = reason
	return nil
}

func (m *mockConn) closedWith() (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed, m.closeCode
}

func (m *mockConn) events(t *testing.T) []wireEvent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wireEvent, 0, len(m.sent))
	for _, raw := range m.sent {
		var ev wireEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (m *mockConn) eventsOfType(t *testing.T, typ string) []wireEvent {
	t.Helper()
	var out []wireEvent
	for _, ev := range m.events(t) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type recordedBroadcast struct {
	payload    any
	recipients []int64
}

type staticContacts map[int64][]int64

func (s staticContacts) GetContactIDs(_ context.Context, userID int64) ([]int64, error) {
	return s[userID], nil
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []recordedBroadcast
}

func (f *fakeBroadcaster) Broadcast(payload any, recipients []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedBroadcast{payload: payload, recipients: recipients})
}

func (f *fakeBroadcaster) presence(online bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if ev, ok := c.payload.(models.PresenceEvent); ok && ev.Online == online {
			n++
		}
	}
	return n
}
