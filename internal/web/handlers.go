package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tapwave/typingarena/internal/hub"
	"github.com/tapwave/typingarena/internal/leaderboard"
	"github.com/tapwave/typingarena/internal/model"
	"github.com/tapwave/typingarena/internal/replay"
	"github.com/tapwave/typingarena/internal/scoring"
	"github.com/tapwave/typingarena/internal/store"
)

// --- JSON response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps a store.Error's Kind to the §7 HTTP status table
// (404/400/409), falling back to 500 for anything else.
func writeStoreError(w http.ResponseWriter, err error) {
	switch store.KindOf(err) {
	case store.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case store.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case store.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// parseLimit extracts a limit query param with a default and bound.
func parseLimit(r *http.Request, defaultLimit int) (int, error) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("limit must be a non-negative integer")
		}
		limit = n
	}
	return limit, nil
}

func toPromptResponse(p model.Prompt) promptResponse {
	return promptResponse{
		ID:           p.ID,
		Language:     string(p.Language),
		DisplayText:  p.DisplayText,
		TypingTarget: p.TypingTarget,
		Tags:         p.Tags,
	}
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth (collaborator-backed, §6 "Auth service (opaque)") ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username, email, and password are required")
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		log.Printf("handleRegister: hash: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now().UTC()
	u := &model.User{
		ID: uuid.NewString(), Username: req.Username, Email: req.Email,
		PasswordHash: hash, Role: model.RoleUser, CreatedAt: now,
	}
	if err := s.store.InsertUser(u); err != nil {
		writeStoreError(w, err)
		return
	}

	plaintext, rt, err := s.tokens.Issue(u.ID, now, 30*24*time.Hour)
	if err != nil {
		log.Printf("handleRegister: issue token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.InsertRefreshToken(&rt); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{UserID: u.ID, Username: u.Username, Role: string(u.Role), RefreshToken: plaintext})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !s.hasher.Verify(req.Password, u.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now().UTC()
	plaintext, rt, err := s.tokens.Issue(u.ID, now, 30*24*time.Hour)
	if err != nil {
		log.Printf("handleLogin: issue token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.InsertRefreshToken(&rt); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{UserID: u.ID, Username: u.Username, Role: string(u.Role), RefreshToken: plaintext})
}

// --- Admin CRUD (supplemental, SPEC_FULL.md §C.2) ---

func (s *Server) handleCreateContest(w http.ResponseWriter, r *http.Request) {
	principal, ok := FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid principal")
		return
	}
	if principal.Role != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	if !requireJSON(w, r) {
		return
	}

	var req createContestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	startsAt, err1 := time.Parse(time.RFC3339, req.StartsAt)
	endsAt, err2 := time.Parse(time.RFC3339, req.EndsAt)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "startsAt and endsAt must be RFC3339 timestamps")
		return
	}
	if !startsAt.Before(endsAt) {
		writeError(w, http.StatusBadRequest, "startsAt must be before endsAt")
		return
	}
	visibility := model.Visibility(req.Visibility)
	if visibility == model.VisibilityPrivate && (req.JoinCode == nil || *req.JoinCode == "") {
		writeError(w, http.StatusBadRequest, "private contests require a joinCode")
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == nil && s.cfg.DefaultMaxAttempts > 0 {
		v := s.cfg.DefaultMaxAttempts
		maxAttempts = &v
	}

	c := &model.Contest{
		ID: uuid.NewString(), Title: req.Title, Description: req.Description,
		Visibility: visibility, JoinCode: req.JoinCode,
		StartsAt: startsAt, EndsAt: endsAt, Timezone: req.Timezone,
		TimeLimitSec: req.TimeLimitSec, AllowBackspace: req.AllowBackspace,
		LeaderboardVisibility: model.LeaderboardVisibility(req.LeaderboardVisibility),
		Language:              model.Language(req.Language),
		MaxAttempts:           maxAttempts,
		CreatedBy:             principal.UserID,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.store.InsertContest(c); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContestResponse(*c, time.Now().UTC()))
}

func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	principal, ok := FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid principal")
		return
	}
	if principal.Role != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	if !requireJSON(w, r) {
		return
	}

	var req createPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TypingTarget == "" {
		writeError(w, http.StatusBadRequest, "typingTarget is required")
		return
	}

	p := &model.Prompt{
		ID: uuid.NewString(), Language: model.Language(req.Language),
		DisplayText: req.DisplayText, TypingTarget: req.TypingTarget,
		Tags: req.Tags, IsActive: true, CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertPrompt(p); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromptResponse(*p))
}

func (s *Server) handleSetContestPrompts(w http.ResponseWriter, r *http.Request) {
	principal, ok := FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid principal")
		return
	}
	if principal.Role != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	if !requireJSON(w, r) {
		return
	}
	contestID := r.PathValue("id")

	var req setContestPromptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.PromptIDs) == 0 {
		writeError(w, http.StatusBadRequest, "promptIds must be non-empty")
		return
	}

	if _, err := s.store.GetContest(contestID); err != nil {
		writeStoreError(w, err)
		return
	}
	for i, promptID := range req.PromptIDs {
		cp := model.ContestPrompt{ContestID: contestID, PromptID: promptID, OrderIndex: i}
		if err := s.store.InsertContestPrompt(cp); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(req.PromptIDs)})
}

// --- Core operations (§6) ---

// handleStartSession implements the startSession operation of §6.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid principal")
		return
	}
	contestID := r.PathValue("id")

	result, err := s.store.StartSession(contestID, principal.UserID, time.Now().UTC())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := startSessionResponse{
		SessionID:    result.SessionID,
		Prompt:       toPromptResponse(result.Prompt),
		StartedAt:    result.StartedAt.Format(time.RFC3339),
		AttemptsUsed: result.AttemptsUsed,
		Unlimited:    result.Unlimited,
	}
	if !result.Unlimited {
		resp.AttemptsRemaining = result.AttemptsRemaining
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleFinishSession implements the finishSession operation of §6, and —
// strictly after the store transaction commits — publishes a refreshed
// leaderboard snapshot to the session's contest channel (§5, §9 "Real-time
// publish placement MUST be post-commit").
func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid principal")
		return
	}
	if !requireJSON(w, r) {
		return
	}
	sessionID := r.PathValue("id")

	var req finishSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Keylog) > replay.KeyLimit {
		writeError(w, http.StatusBadRequest, "keylog exceeds 2000 entries")
		return
	}

	keylog := make([]replay.Entry, len(req.Keylog))
	for i, k := range req.Keylog {
		keylog[i] = replay.Entry{T: k.T, K: k.K, OK: k.OK}
	}

	payload := store.FinishPayload{
		Reported: scoring.Reported{CPM: req.CPM, WPM: req.WPM, Accuracy: req.Accuracy, Score: req.Score},
		Errors:   req.Errors,
		Keylog:   keylog,
	}
	if req.ClientFlags != nil {
		payload.Defocus = req.ClientFlags.Defocus
		payload.Paste = req.ClientFlags.PasteBlocked
		payload.Anomaly = req.ClientFlags.AnomalyScore
	}

	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	contestID := sess.ContestID

	result, err := s.store.FinishSession(sessionID, principal.UserID, payload, time.Now().UTC())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, finishSessionResponse{
		Status: string(result.Verdict),
		Stats: statsResponse{
			CPM: result.Stats.CPM, WPM: result.Stats.WPM,
			Accuracy: result.Stats.Accuracy, Score: result.Stats.Score,
		},
		Issues:  result.Issues,
		Anomaly: result.Flags.AnomalyScore,
		Flags: flagsResponse{
			Defocus:      result.Flags.Defocus,
			PasteBlocked: result.Flags.PasteBlocked,
		},
		BestUpdated:  result.BestUpdated,
		AttemptsUsed: result.AttemptsUsed,
	})

	s.publishLeaderboard(contestID)
}

// publishLeaderboard recomputes and fans out a leaderboard snapshot for
// contestID. Called only after a finishSession commit, never from within
// the store's transaction (§5 "Shared-resource policy"). Failures are
// logged, never retried, and never surface to the finishing caller — the
// commit already happened.
func (s *Server) publishLeaderboard(contestID string) {
	ranked, summary, err := s.store.GetLeaderboard(contestID, s.leaderboardLimit)
	if err != nil {
		log.Printf("publishLeaderboard(%s): %v", contestID, err)
		return
	}
	snapshot := toLeaderboardResponse(ranked, summary, "")
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("publishLeaderboard(%s): marshal: %v", contestID, err)
		return
	}
	s.hub.Publish(hub.ChannelName(contestID), payload)
}

// handleGetLeaderboard implements the getLeaderboard operation of §6.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	contestID := r.PathValue("id")
	limit, err := parseLimit(r, s.leaderboardLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ranked, summary, err := s.store.GetLeaderboard(contestID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var userID string
	if principal, ok := FromRequest(r); ok {
		userID = principal.UserID
	}
	writeJSON(w, http.StatusOK, toLeaderboardResponse(ranked, summary, userID))
}

func toContestResponse(c model.Contest, now time.Time) contestResponse {
	status := "scheduled"
	switch {
	case !now.Before(c.EndsAt):
		status = "finished"
	case !now.Before(c.StartsAt):
		status = "running"
	}
	return contestResponse{
		ID: c.ID, Title: c.Title, Description: c.Description,
		Visibility: string(c.Visibility), StartsAt: c.StartsAt.Format(time.RFC3339),
		EndsAt: c.EndsAt.Format(time.RFC3339), Timezone: c.Timezone,
		TimeLimitSec: c.TimeLimitSec, AllowBackspace: c.AllowBackspace,
		LeaderboardVisibility: string(c.LeaderboardVisibility), Language: string(c.Language),
		MaxAttempts: c.MaxAttempts, Status: status,
	}
}

func toLeaderboardResponse(ranked []leaderboard.Ranked, summary leaderboard.Summary, userID string) leaderboardResponse {
	entries := make([]leaderboardEntryResponse, len(ranked))
	for i, r := range ranked {
		entries[i] = toLeaderboardEntry(r)
	}
	top := make([]leaderboardEntryResponse, len(summary.Top))
	for i, r := range summary.Top {
		top[i] = toLeaderboardEntry(r)
	}
	resp := leaderboardResponse{Entries: entries, Top: top, Total: summary.Total}
	if userID != "" {
		if personal := leaderboard.ExtractPersonalRank(ranked, userID); personal != nil {
			e := toLeaderboardEntry(*personal)
			resp.PersonalRank = &e
		}
	}
	return resp
}

func toLeaderboardEntry(r leaderboard.Ranked) leaderboardEntryResponse {
	return leaderboardEntryResponse{
		Rank: r.Rank, SessionID: r.SessionID, UserID: r.UserID, Username: r.Username,
		Score: r.Score, Accuracy: r.Accuracy, CPM: r.CPM, EndedAt: r.EndedAt.Format(time.RFC3339),
	}
}

// handleLeaderboardStream subscribes the caller to the contest's
// server-sent leaderboard channel, replaying buffered snapshots
// immediately and then streaming future publishes (§6 "Real-time
// fan-out").
func (s *Server) handleLeaderboardStream(w http.ResponseWriter, r *http.Request) {
	contestID := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, unsubscribe := s.hub.Subscribe(hub.ChannelName(contestID))
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
