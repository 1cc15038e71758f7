package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/parley/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db               *sql.DB
	retractionWindow time.Duration
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/parley.db".
func NewSQLiteStore(ctx context.Context, dbPath string, retractionWindow time.Duration) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/parley.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, retractionWindow: retractionWindow}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT DEFAULT 'user',
		locked INTEGER DEFAULT 0,
		banned INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT DEFAULT 'text',
		created_at INTEGER NOT NULL,
		retract_deadline INTEGER NOT NULL,
		retracted INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName, passwordHash, role string) (*models.User, error) {
	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, username, displayName, passwordHash, role, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return s.GetUserByID(ctx, uuid.MustParse(id))
}

const sqliteUserCols = `id, username, display_name, password_hash, role, locked, banned, created_at`

func (s *SQLiteStore) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var idStr string
	var lockedInt, bannedInt int
	err := row.Scan(
		&idStr,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&lockedInt,
		&bannedInt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID = uuid.MustParse(idStr)
	user.Locked = lockedInt == 1
	user.Banned = bannedInt == 1
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteUserCols+` FROM users WHERE id = ?
	`, id.String())
	return s.scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteUserCols+` FROM users WHERE username = ?
	`, username)
	return s.scanUser(row)
}

// ListUsers retrieves users with pagination, newest first.
func (s *SQLiteStore) ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteUserCols+`
		FROM users
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		var idStr string
		var lockedInt, bannedInt int

		err := rows.Scan(
			&idStr,
			&user.Username,
			&user.DisplayName,
			&user.PasswordHash,
			&user.Role,
			&lockedInt,
			&bannedInt,
			&user.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		user.ID = uuid.MustParse(idStr)
		user.Locked = lockedInt == 1
		user.Banned = bannedInt == 1
		users = append(users, user)
	}

	return users, total, nil
}

func (s *SQLiteStore) setUserFlag(ctx context.Context, column string, id uuid.UUID, value bool) error {
	valueInt := 0
	if value {
		valueInt = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET `+column+` = ? WHERE id = ?
	`, valueInt, id.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserLocked updates the locked flag.
func (s *SQLiteStore) SetUserLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	return s.setUserFlag(ctx, "locked", id, locked)
}

// SetUserBanned updates the banned flag.
func (s *SQLiteStore) SetUserBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	return s.setUserFlag(ctx, "banned", id, banned)
}

// SetUserRole updates the role.
func (s *SQLiteStore) SetUserRole(ctx context.Context, id uuid.UUID, role string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET role = ? WHERE id = ?
	`, role, id.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists a message and returns the full record with its
// assigned id. SQLite AUTOINCREMENT serializes id assignment.
func (s *SQLiteStore) AppendMessage(ctx context.Context, room string, sender *models.User, content, contentType string) (*models.Message, error) {
	now := time.Now().UnixMilli()
	deadline := now + s.retractionWindow.Milliseconds()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (room, sender_id, sender_name, content, content_type, created_at, retract_deadline, retracted)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, room, sender.ID.String(), sender.DisplayName, content, contentType, now, deadline)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.Message{
		ID:              id,
		Room:            room,
		SenderID:        sender.ID.String(),
		SenderName:      sender.DisplayName,
		Content:         content,
		ContentType:     contentType,
		CreatedAt:       now,
		RetractDeadline: deadline,
	}, nil
}

// GetMessage retrieves a message by id, tombstoned if retracted.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	msg := &models.Message{}
	var retractedInt int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room, sender_id, sender_name, content, content_type, created_at, retract_deadline, retracted
		FROM messages WHERE id = ?
	`, id).Scan(
		&msg.ID,
		&msg.Room,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Content,
		&msg.ContentType,
		&msg.CreatedAt,
		&msg.RetractDeadline,
		&retractedInt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.Retracted = retractedInt == 1
	msg.ApplyTombstone()
	return msg, nil
}

// RetractMessage sets the retracted flag. Retracting an already-retracted
// message is a no-op success.
func (s *SQLiteStore) RetractMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET retracted = 1 WHERE id = ?
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RoomHistory retrieves up to limit messages from a room in ascending id
// order, ending before beforeID when it is positive. Retracted entries are
// tombstoned.
func (s *SQLiteStore) RoomHistory(ctx context.Context, room string, limit int, beforeID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room, sender_id, sender_name, content, content_type, created_at, retract_deadline, retracted
		FROM messages
		WHERE room = ? AND (? <= 0 OR id < ?)
		ORDER BY id DESC
		LIMIT ?
	`, room, beforeID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var retractedInt int
		err := rows.Scan(
			&msg.ID,
			&msg.Room,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Content,
			&msg.ContentType,
			&msg.CreatedAt,
			&msg.RetractDeadline,
			&retractedInt,
		)
		if err != nil {
			return nil, err
		}
		msg.Retracted = retractedInt == 1
		msg.ApplyTombstone()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to ascending order for display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
