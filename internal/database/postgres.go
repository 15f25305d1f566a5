package database

import (
	"context"
	"errors"
	"fmt"

	"groupchat/internal/errs"
	"groupchat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PostgresDB struct {
	pool PgxPool
}

func NewPostgresDB(ctx context.Context, databaseURL string, log *zap.Logger) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database")
	return &PostgresDB{pool: pool}, nil
}

// NewWithPool wraps an existing pool (or a pgxmock pool in tests).
func NewWithPool(pool PgxPool) *PostgresDB {
	return &PostgresDB{pool: pool}
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	return err
}

// User Repository Implementation
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`

	user := &models.User{}
	err := db.executor(ctx).QueryRow(ctx, q, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	const q = `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, username, email, created_at`

	user := &models.User{PasswordHash: passwordHash}
	err := db.executor(ctx).QueryRow(ctx, q, username, email, passwordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	const q = `SELECT id, username, email, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.executor(ctx).QueryRow(ctx, q, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// Room Repository Implementation
func (db *PostgresDB) CreateRoom(ctx context.Context, code, name string, ownerID int64) (*models.Room, error) {
	const q = `
		INSERT INTO rooms (code, name, owner_id, last_seq, created_at)
		VALUES ($1, $2, $3, 0, NOW())
		RETURNING id, code, name, owner_id, last_seq, created_at`

	room := &models.Room{}
	err := db.executor(ctx).QueryRow(ctx, q, code, name, ownerID).Scan(
		&room.ID, &room.Code, &room.Name, &room.OwnerID, &room.LastSeq, &room.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (db *PostgresDB) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	const q = `SELECT id, code, name, owner_id, last_seq, created_at FROM rooms WHERE code = $1`

	room := &models.Room{}
	err := db.executor(ctx).QueryRow(ctx, q, code).Scan(
		&room.ID, &room.Code, &room.Name, &room.OwnerID, &room.LastSeq, &room.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return room, nil
}

func (db *PostgresDB) GetRoomIDByCode(ctx context.Context, code string) (int64, error) {
	const q = `SELECT id FROM rooms WHERE code = $1`

	var id int64
	if err := db.executor(ctx).QueryRow(ctx, q, code).Scan(&id); err != nil {
		return 0, notFound(err)
	}
	return id, nil
}

func (db *PostgresDB) ListUserRooms(ctx context.Context, userID int64) ([]*models.Room, error) {
	const q = `
		SELECT r.id, r.code, r.name, r.owner_id, r.last_seq, r.created_at
		FROM rooms r
		JOIN memberships m ON r.id = m.room_id
		WHERE m.user_id = $1
		ORDER BY r.name`

	rows, err := db.executor(ctx).Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		if err := rows.Scan(&room.ID, &room.Code, &room.Name, &room.OwnerID, &room.LastSeq, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (db *PostgresDB) TransferOwner(ctx context.Context, roomID, newOwnerID int64) error {
	const q = `UPDATE rooms SET owner_id = $2 WHERE id = $1`

	tag, err := db.executor(ctx).Exec(ctx, q, roomID, newOwnerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) DeleteRoom(ctx context.Context, roomID int64) error {
	return db.WithTx(ctx, func(ctx context.Context) error {
		ex := db.executor(ctx)
		if _, err := ex.Exec(ctx, `DELETE FROM memberships WHERE room_id = $1`, roomID); err != nil {
			return err
		}
		if _, err := ex.Exec(ctx, `DELETE FROM messages WHERE room_id = $1`, roomID); err != nil {
			return err
		}
		tag, err := ex.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
}

// Membership Repository Implementation
func (db *PostgresDB) AddMembership(ctx context.Context, userID, roomID int64) (bool, error) {
	const q = `
		INSERT INTO memberships (user_id, room_id, joined_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, room_id) DO NOTHING`

	tag, err := db.executor(ctx).Exec(ctx, q, userID, roomID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) RemoveMembership(ctx context.Context, userID, roomID int64) (bool, error) {
	const q = `DELETE FROM memberships WHERE user_id = $1 AND room_id = $2`

	tag, err := db.executor(ctx).Exec(ctx, q, userID, roomID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM memberships WHERE user_id = $1 AND room_id = $2)`

	var exists bool
	err := db.executor(ctx).QueryRow(ctx, q, userID, roomID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) GetMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	const q = `SELECT user_id FROM memberships WHERE room_id = $1`
	return db.collectIDs(ctx, q, roomID)
}

func (db *PostgresDB) GetContactIDs(ctx context.Context, userID int64) ([]int64, error) {
	const q = `
		SELECT DISTINCT other.user_id
		FROM memberships mine
		JOIN memberships other ON other.room_id = mine.room_id
		WHERE mine.user_id = $1 AND other.user_id <> $1`
	return db.collectIDs(ctx, q, userID)
}

func (db *PostgresDB) collectIDs(ctx context.Context, q string, arg int64) ([]int64, error) {
	rows, err := db.executor(ctx).Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *PostgresDB) GetRoomMembers(ctx context.Context, roomID int64) ([]*models.Member, error) {
	const q = `
		SELECT u.id, u.username, m.joined_at, (r.owner_id = u.id)
		FROM memberships m
		JOIN users u ON m.user_id = u.id
		JOIN rooms r ON m.room_id = r.id
		WHERE m.room_id = $1
		ORDER BY u.username`

	rows, err := db.executor(ctx).Query(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(&member.ID, &member.Username, &member.JoinedAt, &member.IsOwner); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// Message Repository Implementation
func (db *PostgresDB) NextRoomSequence(ctx context.Context, roomID int64) (int64, error) {
	const q = `UPDATE rooms SET last_seq = last_seq + 1 WHERE id = $1 RETURNING last_seq`

	var seq int64
	if err := db.executor(ctx).QueryRow(ctx, q, roomID).Scan(&seq); err != nil {
		return 0, notFound(err)
	}
	return seq, nil
}

func (db *PostgresDB) InsertMessage(ctx context.Context, msg *models.Message) (int64, error) {
	const q = `
		INSERT INTO messages (room_id, sender_id, seq, kind, text, attachment_refs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`

	refs := msg.AttachmentRefs
	if refs == nil {
		refs = []int64{}
	}
	err := db.executor(ctx).QueryRow(ctx, q,
		msg.RoomID, msg.SenderID, msg.Seq, string(msg.Kind), msg.Text, refs,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

func (db *PostgresDB) MessagesAfter(ctx context.Context, roomID, after int64, limit int) ([]*models.Message, error) {
	const q = `
		SELECT id, room_id, sender_id, seq, kind, text, attachment_refs, created_at
		FROM messages
		WHERE room_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`

	rows, err := db.executor(ctx).Query(ctx, q, roomID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		var (
			msg  = &models.Message{}
			kind string
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Seq, &kind, &msg.Text, &msg.AttachmentRefs, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Kind = models.MessageKind(kind)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Media Repository Implementation
func (db *PostgresDB) ActivateAttachments(ctx context.Context, attachmentIDs []int64, uploaderID, messageID int64) error {
	if len(attachmentIDs) == 0 {
		return nil
	}
	const q = `UPDATE attachments SET message_id = $1
		WHERE id = ANY($2) AND uploader_id = $3 AND message_id IS NULL`

	tag, err := db.executor(ctx).Exec(ctx, q, messageID, attachmentIDs, uploaderID)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(attachmentIDs) {
		return fmt.Errorf("activate attachments: %d of %d pending: %w", tag.RowsAffected(), len(attachmentIDs), errs.ErrNotFound)
	}
	return nil
}
