package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/parley/internal/auth"
	"github.com/eldtechnologies/parley/internal/config"
	"github.com/eldtechnologies/parley/internal/hub"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

type testAPI struct {
	router http.Handler
	store  *store.MemoryStore
	tokens *auth.Tokens
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{
		Env:               "test",
		JWTSecret:         "test-secret",
		JWTExpiry:         time.Hour,
		RetractionWindow:  time.Minute,
		AdminBypassWindow: true,
		HistoryLimit:      50,
	}

	st := store.NewMemoryStore(cfg.RetractionWindow)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTExpiry)
	policy := auth.Policy{AdminBypassWindow: cfg.AdminBypassWindow}
	chatHub := hub.New(zerolog.Nop(), st, tokens, policy, cfg.HistoryLimit)
	t.Cleanup(func() { chatHub.Shutdown(time.Second) })

	router := NewRouter(zerolog.Nop(), cfg, st, nil, tokens, policy, chatHub)
	return &testAPI{router: router, store: st, tokens: tokens}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

// seedUser creates an account directly in the store and issues a token.
func (a *testAPI) seedUser(t *testing.T, username, role string) (*models.User, string) {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	user, err := a.store.CreateUser(context.Background(), username, username, string(hash), role)
	if err != nil {
		t.Fatal(err)
	}
	token, err := a.tokens.Issue(user)
	if err != nil {
		t.Fatal(err)
	}
	return user, token
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, "POST", "/auth/register", "", map[string]string{
		"username": "alice", "password": "password123", "display_name": "Alice",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body)
	}
	var reg struct {
		Token string `json:"token"`
		User  struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
	}
	decode(t, w, &reg)
	if reg.Token == "" {
		t.Fatal("register should return a token")
	}
	if reg.User.Role != auth.RoleUser {
		t.Fatalf("new accounts start as user, got %q", reg.User.Role)
	}

	// The returned token works immediately.
	if w := a.do(t, "GET", "/me", reg.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}

	if w := a.do(t, "POST", "/auth/register", "", map[string]string{
		"username": "alice", "password": "password123",
	}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate username: expected 409, got %d", w.Code)
	}
	if w := a.do(t, "POST", "/auth/register", "", map[string]string{
		"username": "x", "password": "password123",
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("short username: expected 400, got %d", w.Code)
	}
	if w := a.do(t, "POST", "/auth/register", "", map[string]string{
		"username": "bob", "password": "short",
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", w.Code)
	}

	if w := a.do(t, "POST", "/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong-password",
	}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", w.Code)
	}
	if w := a.do(t, "POST", "/auth/login", "", map[string]string{
		"username": "nobody", "password": "password123",
	}); w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: expected 401, got %d", w.Code)
	}
	if w := a.do(t, "POST", "/auth/login", "", map[string]string{
		"username": "alice", "password": "password123",
	}); w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body)
	}
}

func TestBannedUserCannotLogin(t *testing.T) {
	a := newTestAPI(t)
	user, token := a.seedUser(t, "troll", auth.RoleUser)

	if err := a.store.SetUserBanned(context.Background(), user.ID, true); err != nil {
		t.Fatal(err)
	}

	w := a.do(t, "POST", "/auth/login", "", map[string]string{
		"username": "troll", "password": "password123",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("banned login: expected 403, got %d", w.Code)
	}

	// A token issued before the ban is dead too: the authenticated
	// surface reads the fresh row, not the claims.
	if w := a.do(t, "GET", "/me", token, nil); w.Code != http.StatusForbidden {
		t.Fatalf("banned token on /me: expected 403, got %d", w.Code)
	}
	if w := a.do(t, "GET", "/rooms/general/history", token, nil); w.Code != http.StatusForbidden {
		t.Fatalf("banned token on history: expected 403, got %d", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	a := newTestAPI(t)
	user, token := a.seedUser(t, "alice", auth.RoleUser)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := a.store.AppendMessage(ctx, "general", user, fmt.Sprintf("m%d", i), models.ContentTypeText); err != nil {
			t.Fatal(err)
		}
	}

	if w := a.do(t, "GET", "/rooms/general/history", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}

	w := a.do(t, "GET", "/rooms/general/history", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Room     string           `json:"room"`
		Messages []models.Message `json:"messages"`
	}
	decode(t, w, &resp)
	if len(resp.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(resp.Messages))
	}
	for i := 1; i < len(resp.Messages); i++ {
		if resp.Messages[i].ID <= resp.Messages[i-1].ID {
			t.Fatal("history must be ascending by id")
		}
	}

	// Cursor pages strictly backwards.
	cursor := resp.Messages[2].ID
	w = a.do(t, "GET", fmt.Sprintf("/rooms/general/history?before=%d", cursor), token, nil)
	decode(t, w, &resp)
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages before cursor, got %d", len(resp.Messages))
	}

	// Unknown rooms are empty, not errors.
	w = a.do(t, "GET", "/rooms/empty-room/history", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("empty room: expected 200, got %d", w.Code)
	}
	decode(t, w, &resp)
	if len(resp.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(resp.Messages))
	}

	if w := a.do(t, "GET", "/rooms/general/history?limit=zero", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestAdminSurfaceRankGate(t *testing.T) {
	a := newTestAPI(t)
	_, userToken := a.seedUser(t, "alice", auth.RoleUser)
	_, managerToken := a.seedUser(t, "mgr", auth.RoleManager)
	_, adminToken := a.seedUser(t, "mod", auth.RoleAdmin)

	for _, token := range []string{userToken, managerToken} {
		if w := a.do(t, "GET", "/admin/users", token, nil); w.Code != http.StatusForbidden {
			t.Fatalf("below admin rank: expected 403, got %d", w.Code)
		}
	}

	w := a.do(t, "GET", "/admin/users", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin list: expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Total int `json:"total"`
	}
	decode(t, w, &resp)
	if resp.Total != 3 {
		t.Fatalf("expected 3 users, got %d", resp.Total)
	}
}

func TestLockAndBan(t *testing.T) {
	a := newTestAPI(t)
	target, _ := a.seedUser(t, "alice", auth.RoleUser)
	_, adminToken := a.seedUser(t, "mod", auth.RoleAdmin)

	w := a.do(t, "POST", "/admin/users/"+target.ID.String()+"/lock", adminToken, map[string]bool{"locked": true})
	if w.Code != http.StatusOK {
		t.Fatalf("lock: expected 200, got %d: %s", w.Code, w.Body)
	}
	got, _ := a.store.GetUserByID(context.Background(), target.ID)
	if !got.Locked {
		t.Fatal("lock flag not persisted")
	}

	w = a.do(t, "POST", "/admin/users/"+target.ID.String()+"/lock", adminToken, map[string]bool{"locked": false})
	if w.Code != http.StatusOK {
		t.Fatalf("unlock: expected 200, got %d", w.Code)
	}
	got, _ = a.store.GetUserByID(context.Background(), target.ID)
	if got.Locked {
		t.Fatal("unlock not persisted")
	}

	w = a.do(t, "POST", "/admin/users/"+target.ID.String()+"/ban", adminToken, map[string]bool{"banned": true})
	if w.Code != http.StatusOK {
		t.Fatalf("ban: expected 200, got %d: %s", w.Code, w.Body)
	}
	got, _ = a.store.GetUserByID(context.Background(), target.ID)
	if !got.Banned {
		t.Fatal("ban flag not persisted")
	}

	if w := a.do(t, "POST", "/admin/users/not-a-uuid/lock", adminToken, map[string]bool{"locked": true}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", w.Code)
	}
}

func TestModerationRankRules(t *testing.T) {
	a := newTestAPI(t)
	admin1, admin1Token := a.seedUser(t, "mod1", auth.RoleAdmin)
	admin2, _ := a.seedUser(t, "mod2", auth.RoleAdmin)
	super, superToken := a.seedUser(t, "root", auth.RoleSuperadmin)

	// Equal rank never moderates equal rank.
	w := a.do(t, "POST", "/admin/users/"+admin2.ID.String()+"/lock", admin1Token, map[string]bool{"locked": true})
	if w.Code != http.StatusForbidden {
		t.Fatalf("admin locking admin: expected 403, got %d", w.Code)
	}
	// Lower rank never moderates higher rank.
	w = a.do(t, "POST", "/admin/users/"+super.ID.String()+"/ban", admin1Token, map[string]bool{"banned": true})
	if w.Code != http.StatusForbidden {
		t.Fatalf("admin banning superadmin: expected 403, got %d", w.Code)
	}
	// Strictly higher rank moderates freely.
	w = a.do(t, "POST", "/admin/users/"+admin1.ID.String()+"/lock", superToken, map[string]bool{"locked": true})
	if w.Code != http.StatusOK {
		t.Fatalf("superadmin locking admin: expected 200, got %d", w.Code)
	}
}

func TestRoleGrant(t *testing.T) {
	a := newTestAPI(t)
	target, _ := a.seedUser(t, "alice", auth.RoleUser)
	_, adminToken := a.seedUser(t, "mod", auth.RoleAdmin)
	_, superToken := a.seedUser(t, "root", auth.RoleSuperadmin)

	w := a.do(t, "POST", "/admin/users/"+target.ID.String()+"/role", adminToken, map[string]string{"role": auth.RoleManager})
	if w.Code != http.StatusOK {
		t.Fatalf("promote to manager: expected 200, got %d: %s", w.Code, w.Body)
	}
	got, _ := a.store.GetUserByID(context.Background(), target.ID)
	if got.Role != auth.RoleManager {
		t.Fatalf("role not persisted, got %q", got.Role)
	}

	// Only the top rank may grant the top rank.
	w = a.do(t, "POST", "/admin/users/"+target.ID.String()+"/role", adminToken, map[string]string{"role": auth.RoleSuperadmin})
	if w.Code != http.StatusForbidden {
		t.Fatalf("admin granting superadmin: expected 403, got %d", w.Code)
	}
	w = a.do(t, "POST", "/admin/users/"+target.ID.String()+"/role", superToken, map[string]string{"role": auth.RoleSuperadmin})
	if w.Code != http.StatusOK {
		t.Fatalf("superadmin granting superadmin: expected 200, got %d", w.Code)
	}

	if w := a.do(t, "POST", "/admin/users/"+target.ID.String()+"/role", superToken, map[string]string{"role": "wizard"}); w.Code != http.StatusForbidden {
		t.Fatalf("unknown role: expected 403, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	decode(t, w, &resp)
	if resp.Status != "healthy" {
		t.Fatalf("expected healthy, got %q", resp.Status)
	}
	if resp.Checks["store"].Status != "pass" {
		t.Fatal("store check should pass")
	}
}
