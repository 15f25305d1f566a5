package models

import "time"

type EventType string

// Inbound frame types.
const (
	FrameSend EventType = "send"
	FrameSync EventType = "sync"
	FramePing EventType = "ping"
)

// Outbound event types.
const (
	EventAck              EventType = "ack"
	EventMessage          EventType = "message"
	EventPresenceUpdate   EventType = "presence_update"
	EventOnlineUsers      EventType = "online_users"
	EventSyncResult       EventType = "sync_result"
	EventPong             EventType = "pong"
	EventMemberJoined     EventType = "member_joined"
	EventMemberLeft       EventType = "member_left"
	EventMemberRemoved    EventType = "member_removed"
	EventOwnerTransferred EventType = "owner_transferred"
	EventRoomDisbanded    EventType = "room_disbanded"
)

// Close codes sent to clients when the server ends a connection.
const (
	CloseNormal            = 1000
	CloseAuthInvalid       = 4001
	CloseReplacedElsewhere = 4003
)

// InboundFrame is any client to server frame. Fields are used according to Type.
type InboundFrame struct {
	Type              EventType `json:"type"`
	RoomCode          string    `json:"roomCode,omitempty"`
	Text              string    `json:"text,omitempty"`
	AttachmentRefs    []int64   `json:"attachmentRefs,omitempty"`
	CorrelationID     string    `json:"correlationId,omitempty"`
	LastKnownSequence int64     `json:"lastKnownSequence,omitempty"`
}

type AckEvent struct {
	Type          EventType `json:"type"`
	CorrelationID string    `json:"correlationId"`
	RoomID        int64     `json:"roomId"`
	SequenceID    int64     `json:"sequenceId"`
}

type MessageEvent struct {
	Type           EventType   `json:"type"`
	RoomID         int64       `json:"roomId"`
	RoomCode       string      `json:"roomCode,omitempty"`
	SequenceID     int64       `json:"sequenceId"`
	SenderID       int64       `json:"senderId"`
	Kind           MessageKind `json:"kind"`
	Text           string      `json:"text,omitempty"`
	AttachmentRefs []int64     `json:"attachmentRefs,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// NewMessageEvent builds the fan-out form of a persisted message.
func NewMessageEvent(roomCode string, m *Message) MessageEvent {
	return MessageEvent{
		Type:           EventMessage,
		RoomID:         m.RoomID,
		RoomCode:       roomCode,
		SequenceID:     m.Seq,
		SenderID:       m.SenderID,
		Kind:           m.Kind,
		Text:           m.Text,
		AttachmentRefs: m.AttachmentRefs,
		CreatedAt:      m.CreatedAt,
	}
}

type PresenceEvent struct {
	Type   EventType `json:"type"`
	UserID int64     `json:"userId"`
	Online bool      `json:"online"`
}

type OnlineUsersEvent struct {
	Type  EventType `json:"type"`
	Users []int64   `json:"users"`
}

type MembershipEvent struct {
	Type     EventType `json:"type"`
	RoomID   int64     `json:"roomId"`
	RoomCode string    `json:"roomCode"`
	UserID   int64     `json:"userId"`
	ActorID  int64     `json:"actorId,omitempty"`
}

type SyncResultEvent struct {
	Type     EventType      `json:"type"`
	RoomID   int64          `json:"roomId"`
	RoomCode string         `json:"roomCode"`
	Messages []MessageEvent `json:"messages"`
	HasMore  bool           `json:"hasMore"`
}

type PongEvent struct {
	Type EventType `json:"type"`
}
