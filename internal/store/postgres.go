package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/parley/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool             *pgxpool.Pool
	retractionWindow time.Duration
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string, retractionWindow time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool, retractionWindow: retractionWindow}

	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		room TEXT NOT NULL,
		sender_id UUID NOT NULL,
		sender_name TEXT NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'text',
		created_at BIGINT NOT NULL,
		retract_deadline BIGINT NOT NULL,
		retracted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, id);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pgUserCols = `id, username, display_name, password_hash, role, locked, banned, created_at`

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username, displayName, passwordHash, role string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+pgUserCols+`
	`, username, displayName, passwordHash, role).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&user.Locked,
		&user.Banned,
		&user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&user.Locked,
		&user.Banned,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+pgUserCols+` FROM users WHERE id = $1`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+pgUserCols+` FROM users WHERE username = $1`, username)
}

// ListUsers retrieves users with pagination, newest first.
func (s *PostgresStore) ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgUserCols+`
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.DisplayName,
			&user.PasswordHash,
			&user.Role,
			&user.Locked,
			&user.Banned,
			&user.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	return users, total, nil
}

func (s *PostgresStore) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserLocked updates the locked flag.
func (s *PostgresStore) SetUserLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	return s.execOne(ctx, `UPDATE users SET locked = $1 WHERE id = $2`, locked, id)
}

// SetUserBanned updates the banned flag.
func (s *PostgresStore) SetUserBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	return s.execOne(ctx, `UPDATE users SET banned = $1 WHERE id = $2`, banned, id)
}

// SetUserRole updates the role.
func (s *PostgresStore) SetUserRole(ctx context.Context, id uuid.UUID, role string) error {
	return s.execOne(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, id)
}

// AppendMessage persists a message and returns the full record with its
// assigned id. BIGSERIAL serializes id assignment.
func (s *PostgresStore) AppendMessage(ctx context.Context, room string, sender *models.User, content, contentType string) (*models.Message, error) {
	now := time.Now().UnixMilli()
	deadline := now + s.retractionWindow.Milliseconds()

	msg := &models.Message{
		Room:            room,
		SenderID:        sender.ID.String(),
		SenderName:      sender.DisplayName,
		Content:         content,
		ContentType:     contentType,
		CreatedAt:       now,
		RetractDeadline: deadline,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (room, sender_id, sender_name, content, content_type, created_at, retract_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, room, sender.ID, sender.DisplayName, content, contentType, now, deadline).Scan(&msg.ID)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message by id, tombstoned if retracted.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	msg := &models.Message{}
	var senderID uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id, room, sender_id, sender_name, content, content_type, created_at, retract_deadline, retracted
		FROM messages WHERE id = $1
	`, id).Scan(
		&msg.ID,
		&msg.Room,
		&senderID,
		&msg.SenderName,
		&msg.Content,
		&msg.ContentType,
		&msg.CreatedAt,
		&msg.RetractDeadline,
		&msg.Retracted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.SenderID = senderID.String()
	msg.ApplyTombstone()
	return msg, nil
}

// RetractMessage sets the retracted flag. Retracting an already-retracted
// message is a no-op success.
func (s *PostgresStore) RetractMessage(ctx context.Context, id int64) error {
	return s.execOne(ctx, `UPDATE messages SET retracted = TRUE WHERE id = $1`, id)
}

// RoomHistory retrieves up to limit messages from a room in ascending id
// order, ending before beforeID when it is positive. Retracted entries are
// tombstoned.
func (s *PostgresStore) RoomHistory(ctx context.Context, room string, limit int, beforeID int64) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room, sender_id, sender_name, content, content_type, created_at, retract_deadline, retracted
		FROM messages
		WHERE room = $1 AND ($2 <= 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`, room, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var senderID uuid.UUID
		err := rows.Scan(
			&msg.ID,
			&msg.Room,
			&senderID,
			&msg.SenderName,
			&msg.Content,
			&msg.ContentType,
			&msg.CreatedAt,
			&msg.RetractDeadline,
			&msg.Retracted,
		)
		if err != nil {
			return nil, err
		}
		msg.SenderID = senderID.String()
		msg.ApplyTombstone()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
