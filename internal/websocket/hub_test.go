package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"groupchat/internal/database"
	"groupchat/internal/models"
	"groupchat/internal/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*httptest.Server
	db   *database.MemoryDB
	hub  *Hub
	room *models.Room
}

// newTestServer serves /?uid=N[&ttl=D] without token checks. Users 1 and 2
// share room ROOM1.
func newTestServer(t *testing.T, debounce time.Duration) *testServer {
	t.Helper()
	return newTestServerWithPongWait(t, debounce, 2*time.Second)
}

func newTestServerWithPongWait(t *testing.T, debounce, pongWait time.Duration) *testServer {
	t.Helper()
	ctx := context.Background()
	db := database.NewMemoryDB()
	room, err := db.CreateRoom(ctx, "ROOM1", "general", 1)
	require.NoError(t, err)
	for _, uid := range []int64{1, 2} {
		_, err := db.AddMembership(ctx, uid, room.ID)
		require.NoError(t, err)
	}

	log := zap.NewNop()
	reg := NewSessionRegistry(nil)
	d := NewBroadcastDispatcher(reg, log, nil)
	presence := NewPresenceTracker(debounce, reg, db, d, log, nil)
	msgs := services.NewMessageService(db, services.NewSequenceAllocator(db), db)
	router := NewMessageRouter(db, msgs, services.NewSyncService(db, 100), d, log, nil)
	hub := NewHub(reg, presence, router, d, db, Options{PongWait: pongWait, SendBuffer: 64}, log)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := strconv.ParseInt(r.URL.Query().Get("uid"), 10, 64)
		var exp time.Time
		if s := r.URL.Query().Get("ttl"); s != "" {
			ttl, _ := time.ParseDuration(s)
			exp = time.Now().Add(ttl)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn, uid, "user"+strconv.FormatInt(uid, 10), exp)
	}))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return &testServer{Server: srv, db: db, hub: hub, room: room}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev wireEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

// readUntil skips events until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wireEvent {
	t.Helper()
	for {
		ev := readEvent(t, conn)
		if ev.Type == typ {
			return ev
		}
	}
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		return ce.Code
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, f models.InboundFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func TestHub_SendReconnectAndSync(t *testing.T) {
	s := newTestServer(t, 300*time.Millisecond)

	a := s.dial(t, "uid=1")
	snap := readUntil(t, a, "online_users")
	assert.Empty(t, snap.Users)

	b := s.dial(t, "uid=2")
	snap = readUntil(t, b, "online_users")
	assert.Equal(t, []int64{1}, snap.Users)

	online := readUntil(t, a, "presence_update")
	assert.Equal(t, int64(2), online.UserID)
	assert.True(t, online.Online)

	writeFrame(t, a, models.InboundFrame{Type: models.FrameSend, RoomCode: "ROOM1", Text: "hello", CorrelationID: "t1"})
	msg := readUntil(t, a, "message")
	assert.Equal(t, int64(1), msg.SequenceID)
	ack := readUntil(t, a, "ack")
	assert.Equal(t, "t1", ack.CorrelationID)
	assert.Equal(t, int64(1), ack.SequenceID)

	msg = readUntil(t, b, "message")
	assert.Equal(t, int64(1), msg.SequenceID)
	assert.Equal(t, "hello", msg.Text)

	// B drops, A keeps talking
	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return s.hub.OnlineCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i, text := range []string{"two", "three"} {
		writeFrame(t, a, models.InboundFrame{Type: models.FrameSend, RoomCode: "ROOM1", Text: text, CorrelationID: text})
		ack := readUntil(t, a, "ack")
		assert.Equal(t, int64(i+2), ack.SequenceID)
	}

	// B is back inside the debounce window and catches up from its cursor
	b2 := s.dial(t, "uid=2")
	readUntil(t, b2, "online_users")
	writeFrame(t, b2, models.InboundFrame{Type: models.FrameSync, RoomCode: "ROOM1", LastKnownSequence: 1})
	res := readUntil(t, b2, "sync_result")
	require.Len(t, res.Messages, 2)
	assert.Equal(t, int64(2), res.Messages[0].SequenceID)
	assert.Equal(t, "two", res.Messages[0].Text)
	assert.Equal(t, int64(3), res.Messages[1].SequenceID)

	// no offline or repeated online announcement reached A for the blip
	writeFrame(t, a, models.InboundFrame{Type: models.FramePing})
	for {
		ev := readEvent(t, a)
		if ev.Type == "pong" {
			break
		}
		assert.NotEqual(t, "presence_update", ev.Type, "unexpected presence event %+v", ev)
	}
}

func TestHub_IdleConnectionIsReaped(t *testing.T) {
	const pongWait = 400 * time.Millisecond
	s := newTestServerWithPongWait(t, 100*time.Millisecond, pongWait)

	a := s.dial(t, "uid=1")
	readUntil(t, a, "online_users")

	start := time.Now()
	b := s.dial(t, "uid=2")
	// swallow pings without answering; the default handler would pong
	b.SetPingHandler(func(string) error { return nil })
	bDone := make(chan error, 1)
	go func() {
		for {
			if _, _, err := b.ReadMessage(); err != nil {
				bDone <- err
				return
			}
		}
	}()

	online := readUntil(t, a, "presence_update")
	assert.Equal(t, int64(2), online.UserID)
	assert.True(t, online.Online)

	// A keeps reading, so its own pings are answered and it stays
	offline := readUntil(t, a, "presence_update")
	assert.Equal(t, int64(2), offline.UserID)
	assert.False(t, offline.Online)
	assert.GreaterOrEqual(t, time.Since(start), pongWait)
	assert.Equal(t, 1, s.hub.OnlineCount())

	select {
	case err := <-bDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not closed")
	}

	writeFrame(t, a, models.InboundFrame{Type: models.FramePing})
	for {
		ev := readEvent(t, a)
		if ev.Type == "pong" {
			break
		}
		assert.NotEqual(t, "presence_update", ev.Type, "unexpected presence event %+v", ev)
	}
}

func TestHub_SecondConnectionReplacesFirst(t *testing.T) {
	s := newTestServer(t, time.Second)

	first := s.dial(t, "uid=1")
	readUntil(t, first, "online_users")

	second := s.dial(t, "uid=1")
	readUntil(t, second, "online_users")

	assert.Equal(t, models.CloseReplacedElsewhere, readCloseCode(t, first))
	assert.Equal(t, 1, s.hub.OnlineCount())

	writeFrame(t, second, models.InboundFrame{Type: models.FramePing})
	readUntil(t, second, "pong")
}

func TestHub_TokenExpiryClosesConnection(t *testing.T) {
	s := newTestServer(t, time.Second)

	c := s.dial(t, "uid=1&ttl=150ms")
	readUntil(t, c, "online_users")

	assert.Equal(t, models.CloseAuthInvalid, readCloseCode(t, c))
	assert.Eventually(t, func() bool { return s.hub.OnlineCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_OfflineAnnouncedAfterWindow(t *testing.T) {
	s := newTestServer(t, 100*time.Millisecond)

	a := s.dial(t, "uid=1")
	readUntil(t, a, "online_users")
	b := s.dial(t, "uid=2")
	readUntil(t, b, "online_users")
	readUntil(t, a, "presence_update")

	require.NoError(t, b.Close())

	ev := readUntil(t, a, "presence_update")
	assert.Equal(t, int64(2), ev.UserID)
	assert.False(t, ev.Online)
}
