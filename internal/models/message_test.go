package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		refs  []int64
		want  MessageKind
		valid bool
	}{
		{"text", "hi", nil, KindText, true},
		{"image", "", []int64{7}, KindImage, true},
		{"mixed", "look", []int64{7, 8}, KindMixed, true},
		{"empty", "", nil, "", false},
		{"empty refs", "", []int64{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := ClassifyKind(tt.text, tt.refs)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestNewMessageEvent(t *testing.T) {
	now := time.Now()
	ev := NewMessageEvent("ROOM1", &Message{
		ID: 10, RoomID: 3, SenderID: 5, Seq: 42, Kind: KindMixed,
		Text: "hi", AttachmentRefs: []int64{1}, CreatedAt: now,
	})

	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, int64(3), ev.RoomID)
	assert.Equal(t, "ROOM1", ev.RoomCode)
	assert.Equal(t, int64(42), ev.SequenceID)
	assert.Equal(t, int64(5), ev.SenderID)
	assert.Equal(t, KindMixed, ev.Kind)
	assert.Equal(t, []int64{1}, ev.AttachmentRefs)
	assert.Equal(t, now, ev.CreatedAt)
}
