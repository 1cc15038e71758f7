package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/models"
)

// MemoryStore is an in-memory Store used in development when no database
// is configured, and by the test suite. A single mutex guards all state;
// the id counter under it gives the same strictly-increasing guarantee the
// SQL stores get from auto-increment columns.
type MemoryStore struct {
	mu               sync.Mutex
	users            map[uuid.UUID]*models.User
	byUsername       map[string]uuid.UUID
	messages         map[int64]*models.Message
	order            []int64 // append order
	nextID           int64
	retractionWindow time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(retractionWindow time.Duration) *MemoryStore {
	return &MemoryStore{
		users:            make(map[uuid.UUID]*models.User),
		byUsername:       make(map[string]uuid.UUID),
		messages:         make(map[int64]*models.Message),
		retractionWindow: retractionWindow,
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateUser creates a new user record.
func (s *MemoryStore) CreateUser(ctx context.Context, username, displayName, passwordHash, role string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[username]; exists {
		return nil, ErrDuplicate
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	s.users[user.ID] = user
	s.byUsername[username] = user.ID

	copied := *user
	return &copied, nil
}

// GetUserByID retrieves a user by ID.
func (s *MemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

// GetUserByUsername retrieves a user by username.
func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, nil
	}
	copied := *s.users[id]
	return &copied, nil
}

// ListUsers retrieves users with pagination, newest first.
func (s *MemoryStore) ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) updateUser(id uuid.UUID, fn func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(user)
	return nil
}

// SetUserLocked updates the locked flag.
func (s *MemoryStore) SetUserLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	return s.updateUser(id, func(u *models.User) { u.Locked = locked })
}

// SetUserBanned updates the banned flag.
func (s *MemoryStore) SetUserBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	return s.updateUser(id, func(u *models.User) { u.Banned = banned })
}

// SetUserRole updates the role.
func (s *MemoryStore) SetUserRole(ctx context.Context, id uuid.UUID, role string) error {
	return s.updateUser(id, func(u *models.User) { u.Role = role })
}

// AppendMessage persists a message under the store mutex, assigning the
// next id in the global sequence.
func (s *MemoryStore) AppendMessage(ctx context.Context, room string, sender *models.User, content, contentType string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UnixMilli()
	msg := &models.Message{
		ID:              s.nextID,
		Room:            room,
		SenderID:        sender.ID.String(),
		SenderName:      sender.DisplayName,
		Content:         content,
		ContentType:     contentType,
		CreatedAt:       now,
		RetractDeadline: now + s.retractionWindow.Milliseconds(),
	}
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)

	copied := *msg
	return &copied, nil
}

// GetMessage retrieves a message by id, tombstoned if retracted.
func (s *MemoryStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	copied := *msg
	copied.ApplyTombstone()
	return &copied, nil
}

// RetractMessage sets the retracted flag. Retracting an already-retracted
// message is a no-op success.
func (s *MemoryStore) RetractMessage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Retracted = true
	return nil
}

// RoomHistory retrieves up to limit messages from a room in ascending id
// order, ending before beforeID when it is positive.
func (s *MemoryStore) RoomHistory(ctx context.Context, room string, limit int, beforeID int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Walk newest to oldest, collect up to limit, then reverse.
	var messages []models.Message
	for i := len(s.order) - 1; i >= 0 && len(messages) < limit; i-- {
		msg := s.messages[s.order[i]]
		if msg.Room != room {
			continue
		}
		if beforeID > 0 && msg.ID >= beforeID {
			continue
		}
		copied := *msg
		copied.ApplyTombstone()
		messages = append(messages, copied)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
