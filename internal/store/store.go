package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/models"
)

// ErrNotFound is returned by mutations whose target row does not exist.
// Lookups return (nil, nil) for missing rows instead.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by CreateUser when the username is already
// taken. Callers rely on this rather than a pre-check; the unique
// constraint is the only race-free arbiter.
var ErrDuplicate = errors.New("already exists")

// Store defines the interface for persistent storage of users and the
// room message log. SQLiteStore, PostgresStore and MemoryStore implement it.
//
// Message identifiers are assigned by the store and are strictly increasing
// across all rooms (a single global sequence). Per-room ordering follows
// from that, and the fan-out layer relies on it.
type Store interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User directory
	CreateUser(ctx context.Context, username, displayName, passwordHash, role string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error)
	SetUserLocked(ctx context.Context, id uuid.UUID, locked bool) error
	SetUserBanned(ctx context.Context, id uuid.UUID, banned bool) error
	SetUserRole(ctx context.Context, id uuid.UUID, role string) error

	// Message log. AppendMessage is durable before it returns; callers
	// broadcast only after a successful append (write-then-broadcast).
	AppendMessage(ctx context.Context, room string, sender *models.User, content, contentType string) (*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	RetractMessage(ctx context.Context, id int64) error
	RoomHistory(ctx context.Context, room string, limit int, beforeID int64) ([]models.Message, error)
}
