package services

import (
	"context"
	"fmt"
)

type SequenceStore interface {
	NextRoomSequence(ctx context.Context, roomID int64) (int64, error)
}

// SequenceAllocator hands out per-room sequence ids from the persisted counter.
// Values are only consumed when the surrounding transaction commits.
type SequenceAllocator struct {
	store SequenceStore
}

func NewSequenceAllocator(store SequenceStore) *SequenceAllocator {
	return &SequenceAllocator{store: store}
}

func (a *SequenceAllocator) Next(ctx context.Context, roomID int64) (int64, error) {
	seq, err := a.store.NextRoomSequence(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("allocate sequence for room %d: %w", roomID, err)
	}
	return seq, nil
}
