package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"ganesh-ai/internal/models"
)

// MemoryStore keeps everything in process. One mutex serialises all
// transactions, so it is only suitable for tests and single-instance runs.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[uint]models.User
	entries  []models.LedgerEntry
	chats    []models.ChatRecord
	grants   map[[2]uint]models.ReferralGrant
	nextUser uint
	nextRow  uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  map[uint]models.User{},
		grants: map[[2]uint]models.ReferralGrant{},
	}
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, users: map[uint]models.User{}, grants: map[[2]uint]models.ReferralGrant{}}
	if err := fn(tx); err != nil {
		return err
	}

	for id, u := range tx.users {
		s.users[id] = u
	}
	s.entries = append(s.entries, tx.entries...)
	s.chats = append(s.chats, tx.chats...)
	for k, g := range tx.grants {
		s.grants[k] = g
	}
	return nil
}

func (s *MemoryStore) User(_ context.Context, id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) UserByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	return s.find(func(u models.User) bool { return u.TelegramID != nil && *u.TelegramID == telegramID })
}

func (s *MemoryStore) UserByReferralCode(_ context.Context, code string) (*models.User, error) {
	return s.find(func(u models.User) bool { return u.ReferralCode == code })
}

func (s *MemoryStore) find(match func(models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) Entries(_ context.Context, userID uint) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) Chats(_ context.Context, userID uint, limit int) ([]models.ChatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatRecord
	for i := len(s.chats) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if s.chats[i].UserID == userID {
			out = append(out, s.chats[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ChatCount(_ context.Context, userID uint, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.chats {
		if c.UserID == userID && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ReferralCount(_ context.Context, referrerID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.users {
		if u.ReferrerID != nil && *u.ReferrerID == referrerID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PremiumExpiringBetween(_ context.Context, from, to time.Time) ([]models.User, error) {
	return s.filter(func(u models.User) bool {
		return u.IsPremium && u.PremiumExpires != nil && !u.PremiumExpires.Before(from) && !u.PremiumExpires.After(to)
	}), nil
}

func (s *MemoryStore) PremiumExpiredBefore(_ context.Context, t time.Time) ([]models.User, error) {
	return s.filter(func(u models.User) bool {
		return u.IsPremium && u.PremiumExpires != nil && u.PremiumExpires.Before(t)
	}), nil
}

func (s *MemoryStore) filter(match func(models.User) bool) []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if match(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memoryTx buffers writes until Atomic commits them.
type memoryTx struct {
	store   *MemoryStore
	users   map[uint]models.User
	entries []models.LedgerEntry
	chats   []models.ChatRecord
	grants  map[[2]uint]models.ReferralGrant
}

func (tx *memoryTx) user(id uint) (models.User, bool) {
	if u, ok := tx.users[id]; ok {
		return u, true
	}
	u, ok := tx.store.users[id]
	return u, ok
}

func (tx *memoryTx) LockUsers(ids ...uint) (map[uint]*models.User, error) {
	out := make(map[uint]*models.User, len(ids))
	for _, id := range ids {
		u, ok := tx.user(id)
		if !ok {
			return nil, ErrUserNotFound
		}
		out[id] = &u
	}
	return out, nil
}

func (tx *memoryTx) CreateUser(u *models.User) error {
	if u.TelegramID != nil {
		for _, users := range []map[uint]models.User{tx.users, tx.store.users} {
			for _, other := range users {
				if other.TelegramID != nil && *other.TelegramID == *u.TelegramID {
					return ErrUserExists
				}
			}
		}
	}
	tx.store.nextUser++
	u.ID = tx.store.nextUser
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	tx.users[u.ID] = *u
	return nil
}

func (tx *memoryTx) SaveUser(u *models.User) error {
	if _, ok := tx.user(u.ID); !ok {
		return ErrUserNotFound
	}
	u.UpdatedAt = time.Now().UTC()
	tx.users[u.ID] = *u
	return nil
}

func (tx *memoryTx) AppendEntry(e *models.LedgerEntry) error {
	tx.store.nextRow++
	e.ID = tx.store.nextRow
	tx.entries = append(tx.entries, *e)
	return nil
}

func (tx *memoryTx) Entries(userID uint) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for i := len(tx.entries) - 1; i >= 0; i-- {
		if tx.entries[i].UserID == userID {
			out = append(out, tx.entries[i])
		}
	}
	for i := len(tx.store.entries) - 1; i >= 0; i-- {
		if tx.store.entries[i].UserID == userID {
			out = append(out, tx.store.entries[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) AppendChat(c *models.ChatRecord) error {
	tx.store.nextRow++
	c.ID = tx.store.nextRow
	tx.chats = append(tx.chats, *c)
	return nil
}

func (tx *memoryTx) ReferralGranted(referrerID, invitedID uint) (bool, error) {
	key := [2]uint{referrerID, invitedID}
	if _, ok := tx.grants[key]; ok {
		return true, nil
	}
	_, ok := tx.store.grants[key]
	return ok, nil
}

func (tx *memoryTx) GrantReferral(g *models.ReferralGrant) error {
	granted, _ := tx.ReferralGranted(g.ReferrerID, g.InvitedUserID)
	if granted {
		return ErrDuplicateReferral
	}
	tx.store.nextRow++
	g.ID = tx.store.nextRow
	tx.grants[[2]uint{g.ReferrerID, g.InvitedUserID}] = *g
	return nil
}

func (tx *memoryTx) ReferralCodeTaken(code string) (bool, error) {
	for _, u := range tx.users {
		if u.ReferralCode == code {
			return true, nil
		}
	}
	for _, u := range tx.store.users {
		if u.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}
