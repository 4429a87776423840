package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tapwave/typingarena/internal/config"
	"github.com/tapwave/typingarena/internal/hub"
	"github.com/tapwave/typingarena/internal/model"
	"github.com/tapwave/typingarena/internal/store"
)

type testEnv struct {
	srv *Server
	st  *store.Store
	hub *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{Addr: ":0", LeaderboardLimit: 10}
	h := hub.New()
	return &testEnv{srv: New(cfg, st, h), st: st, hub: h}
}

func doRequest(e *testEnv, method, target string, body any, principal *model.Principal) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		r = httptest.NewRequest(method, target, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if principal != nil {
		r.Header.Set("X-User-Id", principal.UserID)
		r.Header.Set("X-User-Role", string(principal.Role))
	}
	w := httptest.NewRecorder()
	e.srv.mux.ServeHTTP(w, r)
	return w
}

func registerUser(t *testing.T, e *testEnv, username string) authResponse {
	t.Helper()
	w := doRequest(e, "POST", "/api/v1/auth/register", registerRequest{
		Username: username, Email: username + "@example.com", Password: "correct horse battery staple",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d: %s", username, w.Code, w.Body.String())
	}
	var resp authResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp
}

func makeAdmin(t *testing.T, e *testEnv, username string) model.Principal {
	t.Helper()
	auth := registerUser(t, e, username)
	u, err := e.st.GetUser(auth.UserID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	// There is no admin-promotion operation in this domain, so tests
	// reach into the store directly to flip the role column.
	if _, err := e.st.Conn().Exec(`UPDATE users SET role = ? WHERE id = ?`, string(model.RoleAdmin), u.ID); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	return model.Principal{UserID: u.ID, Role: model.RoleAdmin}
}

func createContest(t *testing.T, e *testEnv, admin model.Principal, now time.Time) contestResponse {
	t.Helper()
	w := doRequest(e, "POST", "/api/v1/admin/contests", createContestRequest{
		Title: "Spring Cup", Visibility: string(model.VisibilityPublic),
		StartsAt: now.Add(-time.Hour).Format(time.RFC3339), EndsAt: now.Add(time.Hour).Format(time.RFC3339),
		Timezone: "UTC", TimeLimitSec: 60, AllowBackspace: true,
		LeaderboardVisibility: string(model.LeaderboardDuring), Language: string(model.LanguageRomaji),
	}, &admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("create contest: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp contestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode contest response: %v", err)
	}
	return resp
}

func createPrompt(t *testing.T, e *testEnv, admin model.Principal, target string) promptResponse {
	t.Helper()
	w := doRequest(e, "POST", "/api/v1/admin/prompts", createPromptRequest{
		Language: string(model.LanguageRomaji), DisplayText: target, TypingTarget: target,
	}, &admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("create prompt: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp promptResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode prompt response: %v", err)
	}
	return resp
}

func TestHealthReturns200(t *testing.T) {
	e := newTestEnv(t)
	w := doRequest(e, "GET", "/api/v1/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected application/json, got %q", ct)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)
	registerUser(t, e, "alice")

	w := doRequest(e, "POST", "/api/v1/auth/login", loginRequest{
		Username: "alice", Password: "correct horse battery staple",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp authResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RefreshToken == "" {
		t.Fatal("expected a non-empty refresh token")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	e := newTestEnv(t)
	registerUser(t, e, "bob")

	w := doRequest(e, "POST", "/api/v1/auth/login", loginRequest{
		Username: "bob", Password: "wrong password entirely",
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateContestRequiresAdminRole(t *testing.T) {
	e := newTestEnv(t)
	auth := registerUser(t, e, "carol")
	user := model.Principal{UserID: auth.UserID, Role: model.RoleUser}

	w := doRequest(e, "POST", "/api/v1/admin/contests", createContestRequest{
		Title: "Not Allowed", Visibility: string(model.VisibilityPublic),
		StartsAt: "2026-01-01T00:00:00Z", EndsAt: "2026-01-01T01:00:00Z",
		Timezone: "UTC", TimeLimitSec: 60,
		LeaderboardVisibility: string(model.LeaderboardDuring), Language: string(model.LanguageRomaji),
	}, &user)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPrivateContestRequiresJoinCode(t *testing.T) {
	e := newTestEnv(t)
	admin := makeAdmin(t, e, "admin-dora")
	now := time.Now().UTC()

	w := doRequest(e, "POST", "/api/v1/admin/contests", createContestRequest{
		Title: "Invite Only", Visibility: string(model.VisibilityPrivate),
		StartsAt: now.Add(-time.Hour).Format(time.RFC3339), EndsAt: now.Add(time.Hour).Format(time.RFC3339),
		Timezone: "UTC", TimeLimitSec: 60,
		LeaderboardVisibility: string(model.LeaderboardDuring), Language: string(model.LanguageRomaji),
	}, &admin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStartAndFinishSessionFlow(t *testing.T) {
	e := newTestEnv(t)
	admin := makeAdmin(t, e, "admin-erin")
	now := time.Now().UTC()
	contest := createContest(t, e, admin, now)
	prompt := createPrompt(t, e, admin, "the quick brown fox")

	w := doRequest(e, "POST", "/api/v1/admin/contests/"+contest.ID+"/prompts", setContestPromptsRequest{
		PromptIDs: []string{prompt.ID},
	}, &admin)
	if w.Code != http.StatusOK {
		t.Fatalf("set contest prompts: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	auth := registerUser(t, e, "frank")
	player := model.Principal{UserID: auth.UserID, Role: model.RoleUser}

	w = doRequest(e, "POST", "/api/v1/contests/"+contest.ID+"/sessions", nil, &player)
	if w.Code != http.StatusCreated {
		t.Fatalf("start session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var started startSessionResponse
	if err := json.NewDecoder(w.Body).Decode(&started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if started.Prompt.TypingTarget != "the quick brown fox" {
		t.Fatalf("expected assigned prompt, got %q", started.Prompt.TypingTarget)
	}

	// 19 runes, one keystroke every 100ms starting at t=100: duration is
	// 1800ms, giving cpm=19/0.03=633.33, wpm=126.67, accuracy=1, score=316 —
	// close enough to the authoritative values to pass RelaxedTolerances.
	keylog := buildPerfectKeylog(t, "the quick brown fox")
	w = doRequest(e, "POST", "/api/v1/sessions/"+started.SessionID+"/finish", finishSessionRequest{
		CPM: 633.33, WPM: 126.67, Accuracy: 1, Score: 316, Keylog: keylog,
	}, &player)
	if w.Code != http.StatusOK {
		t.Fatalf("finish session: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var finished finishSessionResponse
	if err := json.NewDecoder(w.Body).Decode(&finished); err != nil {
		t.Fatalf("decode finish response: %v", err)
	}
	if finished.Status != "finished" {
		t.Fatalf("expected status finished, got %q (issues=%v)", finished.Status, finished.Issues)
	}

	w = doRequest(e, "GET", "/api/v1/contests/"+contest.ID+"/leaderboard", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("leaderboard: expected 200, got %d", w.Code)
	}
	var board leaderboardResponse
	if err := json.NewDecoder(w.Body).Decode(&board); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(board.Entries) != 1 {
		t.Fatalf("expected 1 leaderboard entry, got %d", len(board.Entries))
	}
	if board.Entries[0].UserID != player.UserID {
		t.Fatalf("expected leaderboard entry for %s, got %s", player.UserID, board.Entries[0].UserID)
	}
}

func TestGetLeaderboardUnknownContestNotFound(t *testing.T) {
	e := newTestEnv(t)
	w := doRequest(e, "GET", "/api/v1/contests/does-not-exist/leaderboard", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// buildPerfectKeylog constructs a keylog that types target with no mistakes,
// one key every 100ms, matching the shape internal/replay expects.
func buildPerfectKeylog(t *testing.T, target string) []keylogEntry {
	t.Helper()
	runes := []rune(target)
	entries := make([]keylogEntry, len(runes))
	for i, r := range runes {
		entries[i] = keylogEntry{T: float64((i + 1) * 100), K: string(r)}
	}
	return entries
}
