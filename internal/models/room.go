package models

import "time"

// Room is a group or 1:1 chat. Code is the short public identifier clients use.
type Room struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"owner_id"`
	LastSeq   int64     `json:"last_seq"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type TransferOwnerRequest struct {
	UserID int64 `json:"user_id"`
}

type Member struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
	IsOwner  bool      `json:"is_owner"`
	Online   bool      `json:"online"`
}
