package services

import (
	"context"
	"fmt"

	"groupchat/internal/errs"
	"groupchat/internal/models"
)

type SyncStore interface {
	GetRoomIDByCode(ctx context.Context, code string) (int64, error)
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
	MessagesAfter(ctx context.Context, roomID, after int64, limit int) ([]*models.Message, error)
}

type SyncResult struct {
	RoomID   int64
	RoomCode string
	Messages []*models.Message
	HasMore  bool
}

// Events converts the result to its wire form.
func (r SyncResult) Events() models.SyncResultEvent {
	events := make([]models.MessageEvent, 0, len(r.Messages))
	for _, m := range r.Messages {
		events = append(events, models.NewMessageEvent(r.RoomCode, m))
	}
	return models.SyncResultEvent{
		Type:     models.EventSyncResult,
		RoomID:   r.RoomID,
		RoomCode: r.RoomCode,
		Messages: events,
		HasMore:  r.HasMore,
	}
}

// SyncService answers "what did I miss in this room since sequence N".
type SyncService struct {
	store     SyncStore
	pageLimit int
}

func NewSyncService(store SyncStore, pageLimit int) *SyncService {
	if pageLimit <= 0 {
		pageLimit = 500
	}
	return &SyncService{store: store, pageLimit: pageLimit}
}

// Sync returns messages with seq > after in ascending order, at most limit
// (capped at the page limit; <= 0 means the page limit). Nothing new is an
// empty result, not an error.
func (s *SyncService) Sync(ctx context.Context, userID int64, roomCode string, after int64, limit int) (SyncResult, error) {
	if after < 0 {
		return SyncResult{}, fmt.Errorf("%w: negative sequence", errs.ErrInvalidInput)
	}
	if limit <= 0 || limit > s.pageLimit {
		limit = s.pageLimit
	}

	roomID, err := s.store.GetRoomIDByCode(ctx, roomCode)
	if err != nil {
		return SyncResult{}, err
	}

	member, err := s.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return SyncResult{}, err
	}
	if !member {
		return SyncResult{}, errs.ErrNotMember
	}

	msgs, err := s.store.MessagesAfter(ctx, roomID, after, limit+1)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load messages after %d: %w", after, err)
	}

	res := SyncResult{RoomID: roomID, RoomCode: roomCode, Messages: msgs}
	if len(msgs) > limit {
		res.Messages = msgs[:limit]
		res.HasMore = true
	}
	if res.Messages == nil {
		res.Messages = []*models.Message{}
	}
	return res, nil
}
