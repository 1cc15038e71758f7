package handlers

import (
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"  Alice  ":       "Alice",
		"Bob\x00\x1fSmith": "BobSmith",
		"":                "",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q): expected %q, got %q", in, want, got)
		}
	}

	long := sanitizeName(strings.Repeat("a", 200))
	if len(long) > 100 {
		t.Fatalf("expected display name capped at 100, got %d", len(long))
	}
}

func TestUsernameValidation(t *testing.T) {
	valid := []string{"alice", "bob_smith", "user-123", "abc"}
	for _, name := range valid {
		if !usernameRegex.MatchString(name) {
			t.Errorf("%q should be a valid username", name)
		}
	}

	invalid := []string{"ab", "has space", "naïve", "a@b.com", ""}
	for _, name := range invalid {
		if usernameRegex.MatchString(name) {
			t.Errorf("%q should be rejected", name)
		}
	}
}
