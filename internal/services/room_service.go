package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"groupchat/internal/database"
	"groupchat/internal/errs"
	"groupchat/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier fans a payload out to a set of users.
type Notifier interface {
	Broadcast(payload any, recipients []int64)
}

// OnlineChecker reports whether a user currently has a live session.
type OnlineChecker interface {
	IsOnline(userID int64) bool
}

type RoomStore interface {
	database.RoomRepository
	database.MembershipRepository
	database.Transactor
}

type RoomService struct {
	store    RoomStore
	messages *MessageService
	notifier Notifier
	online   OnlineChecker
	log      *zap.Logger
}

func NewRoomService(store RoomStore, messages *MessageService, notifier Notifier, online OnlineChecker, log *zap.Logger) *RoomService {
	return &RoomService{
		store:    store,
		messages: messages,
		notifier: notifier,
		online:   online,
		log:      log,
	}
}

// NewRoomCode returns a short public room code.
func NewRoomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func (s *RoomService) CreateRoom(ctx context.Context, req *models.CreateRoomRequest, ownerID int64) (*models.Room, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", errs.ErrInvalidInput)
	}

	var room *models.Room
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.store.CreateRoom(ctx, NewRoomCode(), name, ownerID)
		if err != nil {
			return err
		}
		_, err = s.store.AddMembership(ctx, ownerID, room.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *RoomService) ListUserRooms(ctx context.Context, userID int64) ([]*models.Room, error) {
	return s.store.ListUserRooms(ctx, userID)
}

// memberRoom resolves code and checks that userID belongs to the room.
func (s *RoomService) memberRoom(ctx context.Context, code string, userID int64) (*models.Room, error) {
	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.IsMember(ctx, userID, room.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotMember
	}
	return room, nil
}

func (s *RoomService) ownedRoom(ctx context.Context, code string, userID int64) (*models.Room, error) {
	room, err := s.memberRoom(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if room.OwnerID != userID {
		return nil, fmt.Errorf("%w: not the room owner", errs.ErrForbidden)
	}
	return room, nil
}

func (s *RoomService) GetRoomMembers(ctx context.Context, code string, userID int64) ([]*models.Member, error) {
	room, err := s.memberRoom(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.GetRoomMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if s.online != nil {
		for _, m := range members {
			m.Online = s.online.IsOnline(m.ID)
		}
	}
	return members, nil
}

func (s *RoomService) JoinRoom(ctx context.Context, code string, userID int64) (*models.Room, error) {
	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	added, err := s.store.AddMembership(ctx, userID, room.ID)
	if err != nil {
		return nil, err
	}
	if !added {
		return room, nil
	}

	s.announce(ctx, room, models.EventMemberJoined, userID, userID, nil, "joined the room")
	return room, nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, code string, userID int64) error {
	room, err := s.memberRoom(ctx, code, userID)
	if err != nil {
		return err
	}
	if room.OwnerID == userID {
		return fmt.Errorf("%w: owner must transfer ownership or disband the room", errs.ErrForbidden)
	}
	if _, err := s.store.RemoveMembership(ctx, userID, room.ID); err != nil {
		return err
	}

	s.announce(ctx, room, models.EventMemberLeft, userID, userID, []int64{userID}, "left the room")
	return nil
}

func (s *RoomService) RemoveMember(ctx context.Context, code string, actorID, targetID int64) error {
	room, err := s.ownedRoom(ctx, code, actorID)
	if err != nil {
		return err
	}
	if targetID == actorID {
		return fmt.Errorf("%w: owner cannot remove themselves", errs.ErrInvalidInput)
	}
	removed, err := s.store.RemoveMembership(ctx, targetID, room.ID)
	if err != nil {
		return err
	}
	if !removed {
		return errs.ErrNotMember
	}

	s.announce(ctx, room, models.EventMemberRemoved, targetID, actorID, []int64{targetID}, "was removed from the room")
	return nil
}

func (s *RoomService) TransferOwner(ctx context.Context, code string, actorID, newOwnerID int64) error {
	room, err := s.ownedRoom(ctx, code, actorID)
	if err != nil {
		return err
	}
	if newOwnerID == actorID {
		return nil
	}
	ok, err := s.store.IsMember(ctx, newOwnerID, room.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotMember
	}
	if err := s.store.TransferOwner(ctx, room.ID, newOwnerID); err != nil {
		return err
	}

	s.announce(ctx, room, models.EventOwnerTransferred, newOwnerID, actorID, nil, "")
	return nil
}

func (s *RoomService) DisbandRoom(ctx context.Context, code string, actorID int64) error {
	room, err := s.ownedRoom(ctx, code, actorID)
	if err != nil {
		return err
	}
	members, err := s.store.GetMemberIDs(ctx, room.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRoom(ctx, room.ID); err != nil {
		return err
	}

	s.notify(models.MembershipEvent{
		Type:     models.EventRoomDisbanded,
		RoomID:   room.ID,
		RoomCode: room.Code,
		UserID:   actorID,
		ActorID:  actorID,
	}, members)
	return nil
}

// announce records a system message (when note is set) and emits the
// membership event to the room's current members plus extra recipients.
func (s *RoomService) announce(ctx context.Context, room *models.Room, typ models.EventType, userID, actorID int64, extra []int64, note string) {
	members, err := s.store.GetMemberIDs(ctx, room.ID)
	if err != nil {
		s.log.Warn("load members for membership event",
			zap.Int64("room_id", room.ID), zap.String("event", string(typ)), zap.Error(err))
		members = nil
	}

	if note != "" && s.messages != nil {
		msg := &models.Message{RoomID: room.ID, SenderID: userID, Kind: models.KindSystem, Text: note}
		if err := s.messages.Append(ctx, msg); err != nil {
			s.log.Warn("persist system message",
				zap.Int64("room_id", room.ID), zap.String("event", string(typ)), zap.Error(err))
		} else {
			s.notify(models.NewMessageEvent(room.Code, msg), members)
		}
	}

	s.notify(models.MembershipEvent{
		Type:     typ,
		RoomID:   room.ID,
		RoomCode: room.Code,
		UserID:   userID,
		ActorID:  actorID,
	}, union(members, extra))
}

func (s *RoomService) notify(payload any, recipients []int64) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}
	s.notifier.Broadcast(payload, recipients)
}

func union(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, list := range [][]int64{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// IsNotFound reports whether err means the room or member does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrNotMember)
}
