package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"groupchat/internal/database"
	"groupchat/internal/models"
	"groupchat/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type routerFixture struct {
	db       *database.MemoryDB
	registry *SessionRegistry
	router   *MessageRouter
	room     *models.Room
}

// newRouterFixture seeds room ROOM1 with members 1 and 2. wrap, when set,
// decorates the real message service.
func newRouterFixture(t *testing.T, wrap func(MessageAppender) MessageAppender) *routerFixture {
	t.Helper()
	ctx := context.Background()
	db := database.NewMemoryDB()

	room, err := db.CreateRoom(ctx, "ROOM1", "general", 1)
	require.NoError(t, err)
	for _, uid := range []int64{1, 2} {
		_, err := db.AddMembership(ctx, uid, room.ID)
		require.NoError(t, err)
	}

	var appender MessageAppender = services.NewMessageService(db, services.NewSequenceAllocator(db), db)
	if wrap != nil {
		appender = wrap(appender)
	}
	reg := NewSessionRegistry(nil)
	d := NewBroadcastDispatcher(reg, zap.NewNop(), nil)
	r := NewMessageRouter(db, appender, services.NewSyncService(db, 2), d, zap.NewNop(), nil)
	return &routerFixture{db: db, registry: reg, router: r, room: room}
}

func (f *routerFixture) connect(userID int64) *mockConn {
	c := newMockConn(userID)
	f.registry.Register(userID, c)
	return c
}

func frame(t *testing.T, v models.InboundFrame) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func sendFrame(t *testing.T, text, correlationID string) []byte {
	return frame(t, models.InboundFrame{Type: models.FrameSend, RoomCode: "ROOM1", Text: text, CorrelationID: correlationID})
}

func TestRouter_SendAcksAndBroadcasts(t *testing.T) {
	f := newRouterFixture(t, nil)
	a, b := f.connect(1), f.connect(2)
	ctx := context.Background()

	f.router.HandleFrame(ctx, a, sendFrame(t, "hi", "c1"))
	f.router.HandleFrame(ctx, a, sendFrame(t, "again", "c2"))

	acks := a.eventsOfType(t, "ack")
	require.Len(t, acks, 2)
	assert.Equal(t, "c1", acks[0].CorrelationID)
	assert.Equal(t, int64(1), acks[0].SequenceID)
	assert.Equal(t, "c2", acks[1].CorrelationID)
	assert.Equal(t, int64(2), acks[1].SequenceID)

	for _, c := range []*mockConn{a, b} {
		msgs := c.eventsOfType(t, "message")
		require.Len(t, msgs, 2)
		assert.Equal(t, int64(1), msgs[0].SequenceID)
		assert.Equal(t, "hi", msgs[0].Text)
		assert.Equal(t, int64(1), msgs[0].SenderID)
		assert.Equal(t, f.room.ID, msgs[0].RoomID)
	}

	// sender sees its own message before the ack
	evs := a.events(t)
	assert.Equal(t, "message", evs[0].Type)
	assert.Equal(t, "ack", evs[1].Type)
	assert.Zero(t, f.router.Pending(a))
}

func TestRouter_SendFromNonMemberDropped(t *testing.T) {
	f := newRouterFixture(t, nil)
	a, outsider := f.connect(1), f.connect(3)

	f.router.HandleFrame(context.Background(), outsider, sendFrame(t, "let me in", "x1"))

	assert.Empty(t, outsider.events(t))
	assert.Empty(t, a.events(t))
	stored, err := f.db.MessagesAfter(context.Background(), f.room.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRouter_InvalidFramesDropped(t *testing.T) {
	f := newRouterFixture(t, nil)
	a := f.connect(1)
	ctx := context.Background()

	f.router.HandleFrame(ctx, a, []byte("{not json"))
	f.router.HandleFrame(ctx, a, frame(t, models.InboundFrame{Type: "bogus"}))
	f.router.HandleFrame(ctx, a, sendFrame(t, "", "c1"))
	f.router.HandleFrame(ctx, a, sendFrame(t, "no correlation", ""))
	f.router.HandleFrame(ctx, a, frame(t, models.InboundFrame{Type: models.FrameSend, RoomCode: "NOPE", Text: "hi", CorrelationID: "c2"}))

	assert.Empty(t, a.events(t))
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, *models.Message) error {
	return errors.New("insert failed")
}

func TestRouter_PersistFailureSendsNothing(t *testing.T) {
	f := newRouterFixture(t, func(MessageAppender) MessageAppender { return failingAppender{} })
	a, b := f.connect(1), f.connect(2)

	f.router.HandleFrame(context.Background(), a, sendFrame(t, "hi", "c1"))

	assert.Empty(t, a.events(t))
	assert.Empty(t, b.events(t))
	assert.Zero(t, f.router.Pending(a))
}

type forgettingAppender struct {
	inner  MessageAppender
	forget func()
}

func (f forgettingAppender) Append(ctx context.Context, msg *models.Message) error {
	if err := f.inner.Append(ctx, msg); err != nil {
		return err
	}
	f.forget()
	return nil
}

func TestRouter_NoAckAfterConnectionForgotten(t *testing.T) {
	a := newMockConn(1)
	var f *routerFixture
	f = newRouterFixture(t, func(inner MessageAppender) MessageAppender {
		return forgettingAppender{inner: inner, forget: func() { f.router.Forget(a) }}
	})
	f.registry.Register(1, a)
	b := f.connect(2)

	f.router.HandleFrame(context.Background(), a, sendFrame(t, "hi", "c1"))

	assert.Empty(t, a.eventsOfType(t, "ack"))
	assert.Len(t, a.eventsOfType(t, "message"), 1)
	assert.Len(t, b.eventsOfType(t, "message"), 1)
}

func TestRouter_SyncFrame(t *testing.T) {
	f := newRouterFixture(t, nil)
	a, b := f.connect(1), f.connect(2)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		f.router.HandleFrame(ctx, a, sendFrame(t, text, text))
	}

	f.router.HandleFrame(ctx, b, frame(t, models.InboundFrame{Type: models.FrameSync, RoomCode: "ROOM1", LastKnownSequence: 1}))

	res := b.eventsOfType(t, "sync_result")
	require.Len(t, res, 1)
	require.Len(t, res[0].Messages, 2)
	assert.Equal(t, int64(2), res[0].Messages[0].SequenceID)
	assert.Equal(t, int64(3), res[0].Messages[1].SequenceID)
	assert.False(t, res[0].HasMore)

	f.router.HandleFrame(ctx, b, frame(t, models.InboundFrame{Type: models.FrameSync, RoomCode: "ROOM1", LastKnownSequence: 3}))
	res = b.eventsOfType(t, "sync_result")
	require.Len(t, res, 2)
	assert.Empty(t, res[1].Messages)
}

func TestRouter_SyncDeniedForNonMember(t *testing.T) {
	f := newRouterFixture(t, nil)
	outsider := f.connect(3)

	f.router.HandleFrame(context.Background(), outsider, frame(t, models.InboundFrame{Type: models.FrameSync, RoomCode: "ROOM1"}))
	assert.Empty(t, outsider.events(t))
}

func TestRouter_Ping(t *testing.T) {
	f := newRouterFixture(t, nil)
	a := f.connect(1)

	f.router.HandleFrame(context.Background(), a, frame(t, models.InboundFrame{Type: models.FramePing}))
	assert.Len(t, a.eventsOfType(t, "pong"), 1)
}

func TestRouter_TrackUntrack(t *testing.T) {
	f := newRouterFixture(t, nil)
	a := newMockConn(1)

	f.router.track(a.ID(), "dup")
	f.router.track(a.ID(), "dup")
	assert.Equal(t, 2, f.router.Pending(a))

	assert.True(t, f.router.untrack(a.ID(), "dup"))
	assert.Equal(t, 1, f.router.Pending(a))

	f.router.Forget(a)
	assert.False(t, f.router.untrack(a.ID(), "dup"))
	assert.Zero(t, f.router.Pending(a))
}
