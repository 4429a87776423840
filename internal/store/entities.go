package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/tapwave/typingarena/internal/model"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// --- Users ---

const userColumns = `id, username, email, password_hash, role, created_at`

func scanUser(scanner interface{ Scan(...any) error }, u *model.User) error {
	var role, createdAt string
	if err := scanner.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &createdAt); err != nil {
		return err
	}
	u.Role = model.Role(role)
	t, err := parseTime(createdAt)
	if err != nil {
		return err
	}
	u.CreatedAt = t
	return nil
}

// InsertUser creates a new user record. ErrConflict if the username or
// email is already taken.
func (s *Store) InsertUser(u *model.User) error {
	_, err := s.conn.Exec(
		`INSERT INTO users (id, username, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), timeStr(u.CreatedAt),
	)
	if isUniqueViolation(err) {
		return conflict("username or email already in use")
	}
	if err != nil {
		return internalf("insert user", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(id string) (*model.User, error) {
	u := &model.User{}
	row := s.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err := scanUser(row, u); err == sql.ErrNoRows {
		return nil, notFound("user not found")
	} else if err != nil {
		return nil, internalf("get user", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by their unique username.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	u := &model.User{}
	row := s.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	if err := scanUser(row, u); err == sql.ErrNoRows {
		return nil, notFound("user not found")
	} else if err != nil {
		return nil, internalf("get user by username", err)
	}
	return u, nil
}

// --- Refresh tokens ---

// InsertRefreshToken stores a freshly issued refresh token record.
func (s *Store) InsertRefreshToken(rt *model.RefreshToken) error {
	_, err := s.conn.Exec(
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		rt.ID, rt.UserID, rt.TokenHash, timeStr(rt.ExpiresAt), timeStr(rt.CreatedAt),
	)
	if err != nil {
		return internalf("insert refresh token", err)
	}
	return nil
}

// GetRefreshToken retrieves a refresh token by ID.
func (s *Store) GetRefreshToken(id string) (*model.RefreshToken, error) {
	rt := &model.RefreshToken{}
	var expiresAt, createdAt string
	row := s.conn.QueryRow(`SELECT id, user_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE id = ?`, id)
	if err := row.Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &expiresAt, &createdAt); err == sql.ErrNoRows {
		return nil, notFound("refresh token not found")
	} else if err != nil {
		return nil, internalf("get refresh token", err)
	}
	var err error
	if rt.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, internalf("parse refresh token expiry", err)
	}
	if rt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, internalf("parse refresh token created_at", err)
	}
	return rt, nil
}

// DeleteRefreshToken revokes a single refresh token (used on rotation/logout).
func (s *Store) DeleteRefreshToken(id string) error {
	_, err := s.conn.Exec(`DELETE FROM refresh_tokens WHERE id = ?`, id)
	if err != nil {
		return internalf("delete refresh token", err)
	}
	return nil
}

// --- Contests ---

const contestColumns = `id, title, description, visibility, join_code, starts_at, ends_at, timezone, time_limit_sec, allow_backspace, leaderboard_visibility, language, max_attempts, created_by, created_at`

func scanContest(scanner interface{ Scan(...any) error }, c *model.Contest) error {
	var visibility, startsAt, endsAt, leaderboardVis, language, createdAt string
	var allowBackspace int
	var description sql.NullString
	if err := scanner.Scan(
		&c.ID, &c.Title, &description, &visibility, &c.JoinCode, &startsAt, &endsAt, &c.Timezone,
		&c.TimeLimitSec, &allowBackspace, &leaderboardVis, &language, &c.MaxAttempts, &c.CreatedBy, &createdAt,
	); err != nil {
		return err
	}
	c.Description = description.String
	c.Visibility = model.Visibility(visibility)
	c.LeaderboardVisibility = model.LeaderboardVisibility(leaderboardVis)
	c.Language = model.Language(language)
	c.AllowBackspace = allowBackspace != 0
	var err error
	if c.StartsAt, err = parseTime(startsAt); err != nil {
		return err
	}
	if c.EndsAt, err = parseTime(endsAt); err != nil {
		return err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	return nil
}

// InsertContest creates a new contest.
func (s *Store) InsertContest(c *model.Contest) error {
	_, err := s.conn.Exec(
		`INSERT INTO contests (id, title, description, visibility, join_code, starts_at, ends_at, timezone, time_limit_sec, allow_backspace, leaderboard_visibility, language, max_attempts, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Description, string(c.Visibility), c.JoinCode, timeStr(c.StartsAt), timeStr(c.EndsAt), c.Timezone,
		c.TimeLimitSec, boolToInt(c.AllowBackspace), string(c.LeaderboardVisibility), string(c.Language), c.MaxAttempts, c.CreatedBy, timeStr(c.CreatedAt),
	)
	if err != nil {
		return internalf("insert contest", err)
	}
	return nil
}

// GetContest retrieves a contest by ID.
func (s *Store) GetContest(id string) (*model.Contest, error) {
	c := &model.Contest{}
	row := s.conn.QueryRow(`SELECT `+contestColumns+` FROM contests WHERE id = ?`, id)
	if err := scanContest(row, c); err == sql.ErrNoRows {
		return nil, notFound("contest not found")
	} else if err != nil {
		return nil, internalf("get contest", err)
	}
	return c, nil
}

// ListContests returns contests ordered by starts_at descending.
func (s *Store) ListContests(limit, offset int) ([]model.Contest, error) {
	rows, err := s.conn.Query(`SELECT `+contestColumns+` FROM contests ORDER BY starts_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, internalf("list contests", err)
	}
	defer rows.Close() //nolint:errcheck

	var contests []model.Contest
	for rows.Next() {
		var c model.Contest
		if err := scanContest(rows, &c); err != nil {
			return nil, internalf("scan contest", err)
		}
		contests = append(contests, c)
	}
	return contests, rows.Err()
}

// --- Prompts ---

const promptColumns = `id, language, display_text, typing_target, tags, is_active, created_at`

func scanPrompt(scanner interface{ Scan(...any) error }, p *model.Prompt) error {
	var language, tags, createdAt string
	var isActive int
	if err := scanner.Scan(&p.ID, &language, &p.DisplayText, &p.TypingTarget, &tags, &isActive, &createdAt); err != nil {
		return err
	}
	p.Language = model.Language(language)
	p.IsActive = isActive != 0
	if tags != "" {
		p.Tags = strings.Split(tags, ",")
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return err
	}
	p.CreatedAt = t
	return nil
}

// InsertPrompt creates a new prompt.
func (s *Store) InsertPrompt(p *model.Prompt) error {
	_, err := s.conn.Exec(
		`INSERT INTO prompts (id, language, display_text, typing_target, tags, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Language), p.DisplayText, p.TypingTarget, strings.Join(p.Tags, ","), boolToInt(p.IsActive), timeStr(p.CreatedAt),
	)
	if err != nil {
		return internalf("insert prompt", err)
	}
	return nil
}

// GetPrompt retrieves a prompt by ID.
func (s *Store) GetPrompt(id string) (*model.Prompt, error) {
	p := &model.Prompt{}
	row := s.conn.QueryRow(`SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	if err := scanPrompt(row, p); err == sql.ErrNoRows {
		return nil, notFound("prompt not found")
	} else if err != nil {
		return nil, internalf("get prompt", err)
	}
	return p, nil
}

// --- Contest prompts ---

// InsertContestPrompt adds a prompt to a contest's ordered pool.
func (s *Store) InsertContestPrompt(cp model.ContestPrompt) error {
	_, err := s.conn.Exec(
		`INSERT INTO contest_prompts (contest_id, prompt_id, order_index) VALUES (?, ?, ?)`,
		cp.ContestID, cp.PromptID, cp.OrderIndex,
	)
	if isUniqueViolation(err) {
		return conflict("prompt already attached to contest")
	}
	if err != nil {
		return internalf("insert contest prompt", err)
	}
	return nil
}

// ListContestPrompts returns a contest's prompt pool ordered by order_index.
func (s *Store) ListContestPrompts(contestID string) ([]model.ContestPrompt, error) {
	rows, err := s.conn.Query(
		`SELECT contest_id, prompt_id, order_index FROM contest_prompts WHERE contest_id = ? ORDER BY order_index ASC`, contestID,
	)
	if err != nil {
		return nil, internalf("list contest prompts", err)
	}
	defer rows.Close() //nolint:errcheck

	var prompts []model.ContestPrompt
	for rows.Next() {
		var cp model.ContestPrompt
		if err := rows.Scan(&cp.ContestID, &cp.PromptID, &cp.OrderIndex); err != nil {
			return nil, internalf("scan contest prompt", err)
		}
		prompts = append(prompts, cp)
	}
	return prompts, rows.Err()
}

// --- Entries ---

func scanEntry(scanner interface{ Scan(...any) error }, e *model.Entry) error {
	var lastAttemptAt sql.NullString
	if err := scanner.Scan(&e.UserID, &e.ContestID, &e.AttemptsUsed, &e.BestScore, &e.BestCPM, &e.BestAccuracy, &lastAttemptAt); err != nil {
		return err
	}
	if lastAttemptAt.Valid {
		t, err := parseTime(lastAttemptAt.String)
		if err != nil {
			return err
		}
		e.LastAttemptAt = &t
	}
	return nil
}

const entryColumns = `user_id, contest_id, attempts_used, best_score, best_cpm, best_accuracy, last_attempt_at`

// GetEntry retrieves a user's entry for a contest, or nil if none exists yet.
func (s *Store) GetEntry(userID, contestID string) (*model.Entry, error) {
	return s.getEntryTx(s.conn, userID, contestID)
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) getEntryTx(q queryRower, userID, contestID string) (*model.Entry, error) {
	e := &model.Entry{}
	row := q.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE user_id = ? AND contest_id = ?`, userID, contestID)
	if err := scanEntry(row, e); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, internalf("get entry", err)
	}
	return e, nil
}

// ListEntries returns all entries for a contest.
func (s *Store) ListEntries(contestID string) ([]model.Entry, error) {
	rows, err := s.conn.Query(`SELECT `+entryColumns+` FROM entries WHERE contest_id = ?`, contestID)
	if err != nil {
		return nil, internalf("list entries", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.Entry
	for rows.Next() {
		var e model.Entry
		if err := scanEntry(rows, &e); err != nil {
			return nil, internalf("scan entry", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Sessions ---

const sessionColumns = `id, user_id, contest_id, prompt_id, started_at, ended_at, status, cpm, wpm, accuracy, errors, score, defocus_count, paste_blocked, anomaly_score, dq_reason`

func scanSession(scanner interface{ Scan(...any) error }, sess *model.Session) error {
	var startedAt string
	var endedAt sql.NullString
	var status string
	var pasteBlocked int
	if err := scanner.Scan(
		&sess.ID, &sess.UserID, &sess.ContestID, &sess.PromptID, &startedAt, &endedAt, &status,
		&sess.CPM, &sess.WPM, &sess.Accuracy, &sess.Errors, &sess.Score, &sess.DefocusCount, &pasteBlocked, &sess.AnomalyScore, &sess.DQReason,
	); err != nil {
		return err
	}
	sess.Status = model.SessionStatus(status)
	sess.PasteBlocked = pasteBlocked != 0
	t, err := parseTime(startedAt)
	if err != nil {
		return err
	}
	sess.StartedAt = t
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return err
		}
		sess.EndedAt = &t
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (*model.Session, error) {
	sess := &model.Session{}
	row := s.conn.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err := scanSession(row, sess); err == sql.ErrNoRows {
		return nil, notFound("session not found")
	} else if err != nil {
		return nil, internalf("get session", err)
	}
	return sess, nil
}

// ListFinishedSessions returns every finished session for a contest, the
// input BuildLeaderboard expects.
func (s *Store) ListFinishedSessions(contestID string) ([]model.Session, error) {
	rows, err := s.conn.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE contest_id = ? AND status = ?`, contestID, string(model.SessionFinished),
	)
	if err != nil {
		return nil, internalf("list finished sessions", err)
	}
	defer rows.Close() //nolint:errcheck

	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := scanSession(rows, &sess); err != nil {
			return nil, internalf("scan session", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListRunningSessionsStartedBefore returns sessions still in RUNNING status
// that began before cutoff — candidates for the stale-session reaper.
func (s *Store) ListRunningSessionsStartedBefore(cutoff time.Time) ([]model.Session, error) {
	rows, err := s.conn.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? AND started_at < ?`, string(model.SessionRunning), timeStr(cutoff),
	)
	if err != nil {
		return nil, internalf("list stale sessions", err)
	}
	defer rows.Close() //nolint:errcheck

	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := scanSession(rows, &sess); err != nil {
			return nil, internalf("scan stale session", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// --- Keystrokes ---

// ListKeystrokes returns the keylog of a finished or running session,
// ordered by idx.
func (s *Store) ListKeystrokes(sessionID string) ([]model.Keystroke, error) {
	rows, err := s.conn.Query(
		`SELECT session_id, idx, t_ms, key, ok FROM keystrokes WHERE session_id = ? ORDER BY idx ASC`, sessionID,
	)
	if err != nil {
		return nil, internalf("list keystrokes", err)
	}
	defer rows.Close() //nolint:errcheck

	var keystrokes []model.Keystroke
	for rows.Next() {
		var k model.Keystroke
		var ok int
		if err := rows.Scan(&k.SessionID, &k.Idx, &k.TMs, &k.Key, &ok); err != nil {
			return nil, internalf("scan keystroke", err)
		}
		k.OK = ok != 0
		keystrokes = append(keystrokes, k)
	}
	return keystrokes, rows.Err()
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure, the modernc.org/sqlite driver's signal for a duplicate key.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
