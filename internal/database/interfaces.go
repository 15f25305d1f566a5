package database

import (
	"context"

	"groupchat/internal/models"
)

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type RoomRepository interface {
	CreateRoom(ctx context.Context, code, name string, ownerID int64) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	// GetRoomIDByCode returns errs.ErrNotFound when no room has the code.
	GetRoomIDByCode(ctx context.Context, code string) (int64, error)
	ListUserRooms(ctx context.Context, userID int64) ([]*models.Room, error)
	TransferOwner(ctx context.Context, roomID, newOwnerID int64) error
	DeleteRoom(ctx context.Context, roomID int64) error
}

type MembershipRepository interface {
	AddMembership(ctx context.Context, userID, roomID int64) (bool, error)
	RemoveMembership(ctx context.Context, userID, roomID int64) (bool, error)
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
	GetMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
	GetRoomMembers(ctx context.Context, roomID int64) ([]*models.Member, error)
	// GetContactIDs returns the distinct users sharing at least one room with userID, excluding userID.
	GetContactIDs(ctx context.Context, userID int64) ([]int64, error)
}

type MessageRepository interface {
	// NextRoomSequence atomically increments and returns the room's counter.
	NextRoomSequence(ctx context.Context, roomID int64) (int64, error)
	InsertMessage(ctx context.Context, msg *models.Message) (int64, error)
	// MessagesAfter returns up to limit messages with seq > after, ascending.
	MessagesAfter(ctx context.Context, roomID, after int64, limit int) ([]*models.Message, error)
}

// MediaRepository links uploaded attachment objects to messages.
type MediaRepository interface {
	ActivateAttachments(ctx context.Context, attachmentIDs []int64, uploaderID, messageID int64) error
}

// Transactor runs fn in a transaction carried by the context. Repository calls
// made with that context join the transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Database interface {
	UserRepository
	RoomRepository
	MembershipRepository
	MessageRepository
	MediaRepository
	Transactor
	Ping(ctx context.Context) error
	Close() error
}
