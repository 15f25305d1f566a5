package services

import (
	"context"
	"fmt"

	"groupchat/internal/database"
	"groupchat/internal/models"
)

type MessageStore interface {
	database.Transactor
	InsertMessage(ctx context.Context, msg *models.Message) (int64, error)
}

// MessageService persists messages. Allocation, insert and attachment
// activation commit together, so a failure leaves the room counter untouched
// and no reader can observe sequence N before N-1 is committed.
type MessageService struct {
	store MessageStore
	seq   *SequenceAllocator
	media database.MediaRepository
}

func NewMessageService(store MessageStore, seq *SequenceAllocator, media database.MediaRepository) *MessageService {
	return &MessageService{store: store, seq: seq, media: media}
}

// Append assigns msg its sequence id and persists it. On success msg carries
// ID, Seq and CreatedAt. Attachments must be pending uploads of the sender;
// repeated refs are collapsed.
func (s *MessageService) Append(ctx context.Context, msg *models.Message) error {
	var stored models.Message
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		stored = *msg
		stored.AttachmentRefs = uniqueIDs(msg.AttachmentRefs)

		seq, err := s.seq.Next(ctx, msg.RoomID)
		if err != nil {
			return err
		}
		stored.Seq = seq

		if _, err := s.store.InsertMessage(ctx, &stored); err != nil {
			return err
		}

		if len(stored.AttachmentRefs) > 0 {
			if err := s.media.ActivateAttachments(ctx, stored.AttachmentRefs, stored.SenderID, stored.ID); err != nil {
				return fmt.Errorf("activate attachments for message %d: %w", stored.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	*msg = stored
	return nil
}

// uniqueIDs drops repeats from ids, keeping first occurrences in order.
func uniqueIDs(ids []int64) []int64 {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
