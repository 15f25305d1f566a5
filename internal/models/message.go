package models

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindMixed  MessageKind = "mixed"
	KindSystem MessageKind = "system"
)

// ClassifyKind derives the kind of a user message from its parts.
// It returns false when the message carries neither text nor attachments.
func ClassifyKind(text string, attachments []int64) (MessageKind, bool) {
	switch {
	case text != "" && len(attachments) > 0:
		return KindMixed, true
	case text != "":
		return KindText, true
	case len(attachments) > 0:
		return KindImage, true
	default:
		return "", false
	}
}

// Message is immutable once Seq is assigned.
type Message struct {
	ID             int64       `json:"id"`
	RoomID         int64       `json:"room_id"`
	SenderID       int64       `json:"sender_id"`
	Seq            int64       `json:"seq"`
	Kind           MessageKind `json:"kind"`
	Text           string      `json:"text,omitempty"`
	AttachmentRefs []int64     `json:"attachment_refs,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
