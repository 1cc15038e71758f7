package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	user := &models.User{ID: uuid.New(), Username: "alice", Role: RoleManager}

	signed, err := tokens.Issue(user)
	if err != nil {
		t.Fatal(err)
	}

	identity, err := tokens.Validate(signed)
	if err != nil {
		t.Fatal(err)
	}
	if identity.UserID != user.ID {
		t.Fatalf("expected user ID %s, got %s", user.ID, identity.UserID)
	}
	if identity.Username != "alice" {
		t.Fatalf("expected username alice, got %q", identity.Username)
	}
	if identity.Role != RoleManager {
		t.Fatalf("expected role manager, got %q", identity.Role)
	}
}

func TestTokenExpired(t *testing.T) {
	tokens := NewTokens("test-secret", -time.Minute)
	user := &models.User{ID: uuid.New(), Username: "bob", Role: RoleUser}

	signed, err := tokens.Issue(user)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tokens.Validate(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := NewTokens("secret-a", time.Hour)
	validator := NewTokens("secret-b", time.Hour)
	user := &models.User{ID: uuid.New(), Username: "carol", Role: RoleUser}

	signed, err := issuer.Issue(user)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := validator.Validate(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := tokens.Validate(tok); err != ErrInvalidToken {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", tok, err)
		}
	}
}
