package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered chat account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Locked       bool      `json:"locked"`
	Banned       bool      `json:"banned"`
	CreatedAt    time.Time `json:"created_at"`
}

// Active reports whether the account may currently send messages.
func (u *User) Active() bool {
	return !u.Locked && !u.Banned
}
