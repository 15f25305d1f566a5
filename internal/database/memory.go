package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"groupchat/internal/errs"
	"groupchat/internal/models"
)

// MemoryDB is a process-local Database for development and tests.
// WithTx serializes transactions; each write inside one records an undo step
// that is replayed in reverse when fn fails, so rollback cost tracks the
// writes made rather than the size of the store.
type MemoryDB struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	nextUserID, nextRoomID, nextMessageID, nextAttachmentID int64

	users       map[int64]*models.User
	rooms       map[int64]*models.Room
	members     map[int64]map[int64]time.Time // room -> user -> joined
	messages    map[int64][]*models.Message   // room -> ascending seq
	attachments map[int64]*memAttachment
}

type memAttachment struct {
	uploaderID int64
	messageID  int64
}

type memTxKey struct{}

type memTx struct {
	undo []func()
}

var _ Database = (*MemoryDB)(nil)

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{state: memState{
		users:       map[int64]*models.User{},
		rooms:       map[int64]*models.Room{},
		members:     map[int64]map[int64]time.Time{},
		messages:    map[int64][]*models.Message{},
		attachments: map[int64]*memAttachment{},
	}}
}

// lock acquires the store unless ctx already runs inside WithTx.
func (m *MemoryDB) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// onRollback registers fn to run if the surrounding transaction fails.
// Outside a transaction it is a no-op.
func (m *MemoryDB) onRollback(ctx context.Context, fn func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, fn)
	}
}

func (m *MemoryDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (m *MemoryDB) Ping(context.Context) error { return nil }
func (m *MemoryDB) Close() error               { return nil }

func (m *MemoryDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer m.lock(ctx)()
	for _, u := range m.state.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *MemoryDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	defer m.lock(ctx)()
	for _, u := range m.state.users {
		if strings.EqualFold(u.Email, email) {
			return nil, errs.ErrAlreadyExists
		}
	}
	prevID := m.state.nextUserID
	m.state.nextUserID++
	u := &models.User{
		ID:           m.state.nextUserID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	m.state.users[u.ID] = u
	m.onRollback(ctx, func() {
		delete(m.state.users, u.ID)
		m.state.nextUserID = prevID
	})
	c := *u
	return &c, nil
}

func (m *MemoryDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	defer m.lock(ctx)()
	u, ok := m.state.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	c.PasswordHash = ""
	return &c, nil
}

func (m *MemoryDB) CreateRoom(ctx context.Context, code, name string, ownerID int64) (*models.Room, error) {
	defer m.lock(ctx)()
	for _, r := range m.state.rooms {
		if r.Code == code {
			return nil, errs.ErrAlreadyExists
		}
	}
	prevID := m.state.nextRoomID
	m.state.nextRoomID++
	r := &models.Room{ID: m.state.nextRoomID, Code: code, Name: name, OwnerID: ownerID, CreatedAt: time.Now()}
	m.state.rooms[r.ID] = r
	m.onRollback(ctx, func() {
		delete(m.state.rooms, r.ID)
		m.state.nextRoomID = prevID
	})
	c := *r
	return &c, nil
}

func (m *MemoryDB) roomByCode(code string) *models.Room {
	for _, r := range m.state.rooms {
		if r.Code == code {
			return r
		}
	}
	return nil
}

func (m *MemoryDB) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	defer m.lock(ctx)()
	r := m.roomByCode(code)
	if r == nil {
		return nil, errs.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *MemoryDB) GetRoomIDByCode(ctx context.Context, code string) (int64, error) {
	defer m.lock(ctx)()
	r := m.roomByCode(code)
	if r == nil {
		return 0, errs.ErrNotFound
	}
	return r.ID, nil
}

func (m *MemoryDB) ListUserRooms(ctx context.Context, userID int64) ([]*models.Room, error) {
	defer m.lock(ctx)()
	var rooms []*models.Room
	for roomID, mm := range m.state.members {
		if _, ok := mm[userID]; ok {
			c := *m.state.rooms[roomID]
			rooms = append(rooms, &c)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (m *MemoryDB) TransferOwner(ctx context.Context, roomID, newOwnerID int64) error {
	defer m.lock(ctx)()
	r, ok := m.state.rooms[roomID]
	if !ok {
		return errs.ErrNotFound
	}
	prev := r.OwnerID
	r.OwnerID = newOwnerID
	m.onRollback(ctx, func() { r.OwnerID = prev })
	return nil
}

func (m *MemoryDB) DeleteRoom(ctx context.Context, roomID int64) error {
	defer m.lock(ctx)()
	r, ok := m.state.rooms[roomID]
	if !ok {
		return errs.ErrNotFound
	}
	mm, msgs := m.state.members[roomID], m.state.messages[roomID]
	m.onRollback(ctx, func() {
		m.state.rooms[roomID] = r
		if mm != nil {
			m.state.members[roomID] = mm
		}
		if msgs != nil {
			m.state.messages[roomID] = msgs
		}
	})
	delete(m.state.rooms, roomID)
	delete(m.state.members, roomID)
	delete(m.state.messages, roomID)
	return nil
}

func (m *MemoryDB) AddMembership(ctx context.Context, userID, roomID int64) (bool, error) {
	defer m.lock(ctx)()
	if _, ok := m.state.rooms[roomID]; !ok {
		return false, errs.ErrNotFound
	}
	mm := m.state.members[roomID]
	if mm == nil {
		mm = map[int64]time.Time{}
		m.state.members[roomID] = mm
	}
	if _, ok := mm[userID]; ok {
		return false, nil
	}
	mm[userID] = time.Now()
	m.onRollback(ctx, func() { delete(mm, userID) })
	return true, nil
}

func (m *MemoryDB) RemoveMembership(ctx context.Context, userID, roomID int64) (bool, error) {
	defer m.lock(ctx)()
	mm := m.state.members[roomID]
	joined, ok := mm[userID]
	if !ok {
		return false, nil
	}
	delete(mm, userID)
	m.onRollback(ctx, func() { mm[userID] = joined })
	return true, nil
}

func (m *MemoryDB) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	defer m.lock(ctx)()
	_, ok := m.state.members[roomID][userID]
	return ok, nil
}

func (m *MemoryDB) GetMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	defer m.lock(ctx)()
	ids := make([]int64, 0, len(m.state.members[roomID]))
	for id := range m.state.members[roomID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryDB) GetRoomMembers(ctx context.Context, roomID int64) ([]*models.Member, error) {
	defer m.lock(ctx)()
	r, ok := m.state.rooms[roomID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	var members []*models.Member
	for id, joined := range m.state.members[roomID] {
		var name string
		if u, ok := m.state.users[id]; ok {
			name = u.Username
		}
		members = append(members, &models.Member{ID: id, Username: name, JoinedAt: joined, IsOwner: r.OwnerID == id})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })
	return members, nil
}

func (m *MemoryDB) GetContactIDs(ctx context.Context, userID int64) ([]int64, error) {
	defer m.lock(ctx)()
	seen := map[int64]struct{}{}
	for _, mm := range m.state.members {
		if _, ok := mm[userID]; !ok {
			continue
		}
		for id := range mm {
			if id != userID {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryDB) NextRoomSequence(ctx context.Context, roomID int64) (int64, error) {
	defer m.lock(ctx)()
	r, ok := m.state.rooms[roomID]
	if !ok {
		return 0, errs.ErrNotFound
	}
	prev := r.LastSeq
	r.LastSeq++
	m.onRollback(ctx, func() { r.LastSeq = prev })
	return r.LastSeq, nil
}

func (m *MemoryDB) InsertMessage(ctx context.Context, msg *models.Message) (int64, error) {
	defer m.lock(ctx)()
	if _, ok := m.state.rooms[msg.RoomID]; !ok {
		return 0, errs.ErrNotFound
	}
	for _, existing := range m.state.messages[msg.RoomID] {
		if existing.Seq == msg.Seq {
			return 0, errs.ErrAlreadyExists
		}
	}
	prevID, prevList := m.state.nextMessageID, m.state.messages[msg.RoomID]
	m.state.nextMessageID++
	msg.ID = m.state.nextMessageID
	msg.CreatedAt = time.Now()

	stored := *msg
	stored.AttachmentRefs = append([]int64(nil), msg.AttachmentRefs...)
	m.state.messages[msg.RoomID] = insertBySeq(prevList, &stored)
	m.onRollback(ctx, func() {
		m.state.nextMessageID = prevID
		if prevList == nil {
			delete(m.state.messages, msg.RoomID)
			return
		}
		m.state.messages[msg.RoomID] = prevList
	})
	return msg.ID, nil
}

// insertBySeq returns list with msg placed in seq order. The prefix visible
// through list is never reordered, so a saved copy of the header stays valid.
func insertBySeq(list []*models.Message, msg *models.Message) []*models.Message {
	i := sort.Search(len(list), func(i int) bool { return list[i].Seq > msg.Seq })
	if i == len(list) {
		return append(list, msg)
	}
	out := make([]*models.Message, 0, len(list)+1)
	out = append(out, list[:i]...)
	out = append(out, msg)
	return append(out, list[i:]...)
}

func (m *MemoryDB) MessagesAfter(ctx context.Context, roomID, after int64, limit int) ([]*models.Message, error) {
	defer m.lock(ctx)()
	out := []*models.Message{}
	for _, msg := range m.state.messages[roomID] {
		if msg.Seq <= after {
			continue
		}
		if len(out) == limit {
			break
		}
		c := *msg
		out = append(out, &c)
	}
	return out, nil
}

// CreatePendingAttachment records an uploaded object not yet linked to a message.
func (m *MemoryDB) CreatePendingAttachment(ctx context.Context, uploaderID int64) (int64, error) {
	defer m.lock(ctx)()
	prevID := m.state.nextAttachmentID
	m.state.nextAttachmentID++
	id := m.state.nextAttachmentID
	m.state.attachments[id] = &memAttachment{uploaderID: uploaderID}
	m.onRollback(ctx, func() {
		delete(m.state.attachments, id)
		m.state.nextAttachmentID = prevID
	})
	return id, nil
}

// AttachmentMessage reports which message an attachment is linked to (0 if pending).
func (m *MemoryDB) AttachmentMessage(ctx context.Context, attachmentID int64) (int64, error) {
	defer m.lock(ctx)()
	a, ok := m.state.attachments[attachmentID]
	if !ok {
		return 0, errs.ErrNotFound
	}
	return a.messageID, nil
}

// ActivateAttachments links pending attachments owned by uploaderID to
// messageID. Unknown, foreign or already linked ids fail with ErrNotFound.
func (m *MemoryDB) ActivateAttachments(ctx context.Context, attachmentIDs []int64, uploaderID, messageID int64) error {
	defer m.lock(ctx)()
	for _, id := range attachmentIDs {
		a, ok := m.state.attachments[id]
		if !ok || a.uploaderID != uploaderID || a.messageID != 0 {
			return errs.ErrNotFound
		}
	}
	for _, id := range attachmentIDs {
		a := m.state.attachments[id]
		a.messageID = messageID
		m.onRollback(ctx, func() { a.messageID = 0 })
	}
	return nil
}
