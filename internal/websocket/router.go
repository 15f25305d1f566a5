package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"groupchat/internal/errs"
	"groupchat/internal/metrics"
	"groupchat/internal/models"
	"groupchat/internal/services"

	"go.uber.org/zap"
)

// RoomDirectory resolves rooms and their current members.
type RoomDirectory interface {
	GetRoomIDByCode(ctx context.Context, code string) (int64, error)
	GetMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
}

// MessageAppender assigns a sequence id and persists a message.
type MessageAppender interface {
	Append(ctx context.Context, msg *models.Message) error
}

// Syncer serves gap recovery requests.
type Syncer interface {
	Sync(ctx context.Context, userID int64, roomCode string, after int64, limit int) (services.SyncResult, error)
}

// MessageRouter handles inbound frames from connections.
//
// A send moves Received -> Validated -> Persisted -> Broadcast -> Acked.
// Validation failures are dropped without a reply so non-members learn
// nothing about the room.
type MessageRouter struct {
	rooms      RoomDirectory
	messages   MessageAppender
	syncer     Syncer
	dispatcher *BroadcastDispatcher
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	pending map[string]map[string]int // conn id -> correlation id -> in-flight sends
}

func NewMessageRouter(rooms RoomDirectory, messages MessageAppender, syncer Syncer, d *BroadcastDispatcher, log *zap.Logger, m *metrics.Metrics) *MessageRouter {
	return &MessageRouter{
		rooms:      rooms,
		messages:   messages,
		syncer:     syncer,
		dispatcher: d,
		log:        log,
		metrics:    m,
		pending:    make(map[string]map[string]int),
	}
}

// HandleFrame decodes and dispatches one inbound frame.
func (r *MessageRouter) HandleFrame(ctx context.Context, c Conn, data []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.reject(c, "malformed", zap.Error(err))
		return
	}

	switch frame.Type {
	case models.FrameSend:
		r.HandleSend(ctx, c, &frame)
	case models.FrameSync:
		r.handleSync(ctx, c, &frame)
	case models.FramePing:
		if err := r.dispatcher.SendTo(c, models.PongEvent{Type: models.EventPong}); err != nil {
			r.log.Debug("pong failed", zap.String("conn_id", c.ID()), zap.Error(err))
		}
	default:
		r.reject(c, "unknown_type", zap.String("type", string(frame.Type)))
	}
}

// HandleSend validates, persists, fans out and acknowledges a chat message.
func (r *MessageRouter) HandleSend(ctx context.Context, c Conn, frame *models.InboundFrame) {
	senderID := c.UserID()

	if frame.CorrelationID == "" || frame.RoomCode == "" {
		r.reject(c, "malformed")
		return
	}
	kind, ok := models.ClassifyKind(frame.Text, frame.AttachmentRefs)
	if !ok {
		r.reject(c, "empty", zap.String("correlation_id", frame.CorrelationID))
		return
	}

	roomID, err := r.rooms.GetRoomIDByCode(ctx, frame.RoomCode)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			r.log.Warn("resolve room", zap.String("room_code", frame.RoomCode), zap.Error(err))
		}
		r.reject(c, "unknown_room", zap.String("room_code", frame.RoomCode))
		return
	}

	// Read fresh each send: this is both the authorization check and the recipient list.
	members, err := r.rooms.GetMemberIDs(ctx, roomID)
	if err != nil {
		r.log.Warn("load room members", zap.Int64("room_id", roomID), zap.Error(err))
		r.reject(c, "members_unavailable", zap.Int64("room_id", roomID))
		return
	}
	if !contains(members, senderID) {
		r.reject(c, "not_member", zap.Int64("room_id", roomID))
		return
	}

	r.track(c.ID(), frame.CorrelationID)

	msg := &models.Message{
		RoomID:         roomID,
		SenderID:       senderID,
		Kind:           kind,
		Text:           frame.Text,
		AttachmentRefs: frame.AttachmentRefs,
	}
	if err := r.messages.Append(ctx, msg); err != nil {
		// No ack: the client times out and verifies through sync.
		r.untrack(c.ID(), frame.CorrelationID)
		r.metrics.SendFailed()
		r.log.Error("persist message",
			zap.Int64("user_id", senderID),
			zap.Int64("room_id", roomID),
			zap.String("correlation_id", frame.CorrelationID),
			zap.Error(err))
		return
	}
	r.metrics.MessagePersisted()

	r.dispatcher.Broadcast(models.NewMessageEvent(frame.RoomCode, msg), members)

	if !r.untrack(c.ID(), frame.CorrelationID) {
		// connection went away while persisting
		return
	}
	ack := models.AckEvent{
		Type:          models.EventAck,
		CorrelationID: frame.CorrelationID,
		RoomID:        roomID,
		SequenceID:    msg.Seq,
	}
	if err := r.dispatcher.SendTo(c, ack); err != nil {
		r.log.Debug("ack not delivered",
			zap.String("conn_id", c.ID()), zap.String("correlation_id", frame.CorrelationID), zap.Error(err))
	}
}

func (r *MessageRouter) handleSync(ctx context.Context, c Conn, frame *models.InboundFrame) {
	res, err := r.syncer.Sync(ctx, c.UserID(), frame.RoomCode, frame.LastKnownSequence, 0)
	if err != nil {
		if services.IsNotFound(err) || errors.Is(err, errs.ErrInvalidInput) {
			r.reject(c, "sync_denied", zap.String("room_code", frame.RoomCode))
			return
		}
		r.log.Warn("sync failed", zap.Int64("user_id", c.UserID()), zap.String("room_code", frame.RoomCode), zap.Error(err))
		return
	}
	if err := r.dispatcher.SendTo(c, res.Events()); err != nil {
		r.log.Debug("sync result not delivered", zap.String("conn_id", c.ID()), zap.Error(err))
	}
}

// Forget drops the correlation entries of a closed connection.
func (r *MessageRouter) Forget(c Conn) {
	r.mu.Lock()
	delete(r.pending, c.ID())
	r.mu.Unlock()
}

// Pending reports how many sends from the connection await an ack.
func (r *MessageRouter) Pending(c Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.pending[c.ID()] {
		n += v
	}
	return n
}

func (r *MessageRouter) track(connID, correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.pending[connID]
	if m == nil {
		m = make(map[string]int)
		r.pending[connID] = m
	}
	m[correlationID]++
}

// untrack removes one in-flight entry and reports whether it was still present.
func (r *MessageRouter) untrack(connID, correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.pending[connID]
	n, ok := m[correlationID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(m, correlationID)
		if len(m) == 0 {
			delete(r.pending, connID)
		}
	} else {
		m[correlationID] = n - 1
	}
	return true
}

func (r *MessageRouter) reject(c Conn, reason string, fields ...zap.Field) {
	r.metrics.SendRejected(reason)
	r.log.Debug("inbound frame dropped",
		append([]zap.Field{zap.String("reason", reason), zap.Int64("user_id", c.UserID()), zap.String("conn_id", c.ID())}, fields...)...)
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
