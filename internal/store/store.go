package store

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tapwave/typingarena/internal/evaluator"
	"github.com/tapwave/typingarena/internal/leaderboard"
	"github.com/tapwave/typingarena/internal/model"
	"github.com/tapwave/typingarena/internal/policy"
	"github.com/tapwave/typingarena/internal/replay"
	"github.com/tapwave/typingarena/internal/scoring"
)

// StartResult is the outcome of a successful StartSession call.
type StartResult struct {
	SessionID         string
	Prompt            model.Prompt
	StartedAt         time.Time
	AttemptsUsed      int
	AttemptsRemaining int
	Unlimited         bool
}

// StartSession implements §4.6 startSession: loads or creates the caller's
// entry, validates admission via C2, picks the next prompt by cyclic
// rotation, and opens a RUNNING session — all inside one transaction
// holding the entry row lock, so concurrent starts by the same user never
// skip or reuse an attemptsUsed value.
func (s *Store) StartSession(contestID, userID string, now time.Time) (*StartResult, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, internalf("begin start-session transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	contest, err := s.getContestTx(tx, contestID)
	if err != nil {
		return nil, err
	}

	entry, err := s.getEntryTx(tx, userID, contestID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry = &model.Entry{UserID: userID, ContestID: contestID, AttemptsUsed: 0}
		if err := insertEntryTx(tx, entry); err != nil {
			return nil, err
		}
	}

	if err := policy.ValidateSessionStart(*contest, entry, now); err != nil {
		return nil, validation(err.Error())
	}

	prompts, err := s.listContestPromptsTx(tx, contestID)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, notFound("contest has no prompts")
	}
	// Cyclic selection (§4.6 step 5, §9 "cycling is preferred"): rotate
	// fairly through the pool by the attempt number about to be taken.
	promptID := prompts[entry.AttemptsUsed%len(prompts)].PromptID
	prompt, err := s.getPromptTx(tx, promptID)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	sess := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ContestID: contestID,
		PromptID:  promptID,
		StartedAt: now,
		Status:    model.SessionRunning,
	}
	if err := insertSessionTx(tx, sess); err != nil {
		return nil, err
	}

	entry.AttemptsUsed++
	entry.LastAttemptAt = &now
	if err := updateEntryAttemptTx(tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, internalf("commit start-session transaction", err)
	}

	remaining, unlimited := policy.RemainingAttempts(*contest, entry)
	return &StartResult{
		SessionID:         sessionID,
		Prompt:            *prompt,
		StartedAt:         now,
		AttemptsUsed:      entry.AttemptsUsed,
		AttemptsRemaining: remaining,
		Unlimited:         unlimited,
	}, nil
}

// FinishPayload is a caller's finish-session submission (§6 "Payload").
type FinishPayload struct {
	Reported scoring.Reported
	Errors   *int
	Keylog   []replay.Entry
	Defocus  int
	Paste    bool
	Anomaly  *float64
}

// FinishResult is the outcome of a successful FinishSession call (§4.6,
// §6 "finishSession").
type FinishResult struct {
	Verdict      evaluator.Verdict
	Issues       []string
	Stats        FinishStats
	Flags        evaluator.ClientFlags
	BestUpdated  bool
	AttemptsUsed int
}

// FinishStats is the authoritative, server-computed metric set returned
// alongside a verdict.
type FinishStats struct {
	CPM      float64
	WPM      float64
	Accuracy float64
	Score    int
}

// FinishSession implements §4.6 finishSession: loads and terminalizes a
// RUNNING session exactly once, replaces its keystroke log atomically,
// updates the caller's best-ever metrics if improved, and returns the
// verdict. The leaderboard snapshot publish (if any) is the caller's
// responsibility, performed strictly after this call returns successfully
// (§5 "Shared-resource policy", §9 "Real-time publish placement").
func (s *Store) FinishSession(sessionID, userID string, payload FinishPayload, now time.Time) (*FinishResult, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, internalf("begin finish-session transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	sess, err := s.getSessionTx(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, notFound("session not found")
	}
	if sess.Status != model.SessionRunning {
		return nil, conflict("session already terminalized")
	}

	contest, err := s.getContestTx(tx, sess.ContestID)
	if err != nil {
		return nil, err
	}
	entry, err := s.getEntryTx(tx, userID, sess.ContestID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, notFound("entry not found")
	}
	prompt, err := s.getPromptTx(tx, sess.PromptID)
	if err != nil {
		return nil, err
	}

	var anomaly *float64
	if payload.Anomaly != nil {
		v := *payload.Anomaly
		anomaly = &v
	}
	result := evaluator.Evaluate(*contest, *prompt, entry, evaluator.Payload{
		Reported: payload.Reported,
		Errors:   payload.Errors,
		Keylog:   payload.Keylog,
		Flags: evaluator.ClientFlags{
			Defocus:      payload.Defocus,
			PasteBlocked: payload.Paste,
			AnomalyScore: anomaly,
		},
	})

	sess.Status = model.SessionStatus(result.Verdict)
	sess.EndedAt = &now
	cpm, wpm, accuracy, scoreInt := result.Stats.CPM, result.Stats.WPM, result.Stats.Accuracy, result.Stats.Score
	sess.CPM = &cpm
	sess.WPM = &wpm
	sess.Accuracy = &accuracy
	sess.Score = &scoreInt
	mistakes := result.Mistakes
	sess.Errors = &mistakes
	sess.DefocusCount = result.Flags.Defocus
	sess.PasteBlocked = result.Flags.PasteBlocked
	sess.AnomalyScore = result.Flags.AnomalyScore
	if result.Verdict == evaluator.VerdictDQ && len(result.Issues) > 0 {
		reason := strings.Join(result.Issues, ",")
		sess.DQReason = &reason
	}
	if err := updateSessionResultTx(tx, sess); err != nil {
		return nil, err
	}

	if err := replaceKeystrokesTx(tx, sessionID, payload.Keylog); err != nil {
		return nil, err
	}

	entry.LastAttemptAt = &now
	bestUpdated := false
	if result.Verdict == evaluator.VerdictFinished && isBetter(entry, cpm, accuracy, scoreInt) {
		entry.BestScore = &scoreInt
		entry.BestCPM = &cpm
		entry.BestAccuracy = &accuracy
		bestUpdated = true
	}
	if err := updateEntryAfterFinishTx(tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, internalf("commit finish-session transaction", err)
	}

	fr := &FinishResult{
		Verdict:      result.Verdict,
		Issues:       result.Issues,
		Flags:        result.Flags,
		BestUpdated:  bestUpdated,
		AttemptsUsed: entry.AttemptsUsed,
	}
	fr.Stats.CPM = cpm
	fr.Stats.WPM = wpm
	fr.Stats.Accuracy = accuracy
	fr.Stats.Score = scoreInt
	return fr, nil
}

// isBetter implements §4.6 `isBetter`: lexicographic (score desc, accuracy
// desc, cpm desc); any null existing field counts as −∞.
func isBetter(entry *model.Entry, candidateCPM, candidateAccuracy float64, candidateScore int) bool {
	if entry.BestScore == nil || candidateScore != *entry.BestScore {
		return entry.BestScore == nil || candidateScore > *entry.BestScore
	}
	if entry.BestAccuracy == nil || candidateAccuracy != *entry.BestAccuracy {
		return entry.BestAccuracy == nil || candidateAccuracy > *entry.BestAccuracy
	}
	if entry.BestCPM == nil || candidateCPM != *entry.BestCPM {
		return entry.BestCPM == nil || candidateCPM > *entry.BestCPM
	}
	return false
}

// GetLeaderboard implements §4.6 getLeaderboard: a read-only projection of
// finished sessions for a contest, ordered and ranked by C5.
func (s *Store) GetLeaderboard(contestID string, limit int) ([]leaderboard.Ranked, leaderboard.Summary, error) {
	if _, err := s.GetContest(contestID); err != nil {
		return nil, leaderboard.Summary{}, err
	}

	rows, err := s.conn.Query(`
		SELECT se.id, se.user_id, u.username, se.score, se.accuracy, se.cpm, se.ended_at
		FROM sessions se
		JOIN users u ON u.id = se.user_id
		WHERE se.contest_id = ? AND se.status = ?
		ORDER BY se.ended_at ASC`, contestID, string(model.SessionFinished))
	if err != nil {
		return nil, leaderboard.Summary{}, internalf("query leaderboard sessions", err)
	}
	defer rows.Close() //nolint:errcheck

	var sessions []leaderboard.Session
	for rows.Next() {
		var ls leaderboard.Session
		var endedAt string
		var score sql.NullInt64
		var accuracy, cpm sql.NullFloat64
		if err := rows.Scan(&ls.SessionID, &ls.UserID, &ls.Username, &score, &accuracy, &cpm, &endedAt); err != nil {
			return nil, leaderboard.Summary{}, internalf("scan leaderboard session", err)
		}
		ls.Score = int(score.Int64)
		ls.Accuracy = accuracy.Float64
		ls.CPM = cpm.Float64
		t, err := parseTime(endedAt)
		if err != nil {
			return nil, leaderboard.Summary{}, internalf("parse leaderboard ended_at", err)
		}
		ls.EndedAt = t
		sessions = append(sessions, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, leaderboard.Summary{}, internalf("iterate leaderboard sessions", err)
	}

	ranked, summary := leaderboard.BuildLeaderboard(sessions)
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked, summary, nil
}

// ExpireStaleSessions marks every RUNNING session whose contest ended
// before cutoff as EXPIRED, one transaction per session so a failure on one
// does not block the rest. It is the supplemental reaper of SPEC_FULL.md §C,
// covering the client-disappears-mid-session case §5 describes ("clients
// simply stop submitting").
func (s *Store) ExpireStaleSessions(cutoff, now time.Time) (int, error) {
	// A session can only start while its contest runs, so every session of
	// a contest that ended before cutoff also started before cutoff.
	stale, err := s.ListRunningSessionsStartedBefore(cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sess := range stale {
		contest, err := s.GetContest(sess.ContestID)
		if err != nil {
			return expired, err
		}
		if !contest.EndsAt.Before(cutoff) {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return expired, internalf("begin expire transaction", err)
		}
		res, err := tx.Exec(
			`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
			string(model.SessionExpired), timeStr(now), sess.ID, string(model.SessionRunning),
		)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return expired, internalf("expire session "+sess.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return expired, internalf("rows affected", err)
		}
		if err := tx.Commit(); err != nil {
			return expired, internalf("commit expire transaction", err)
		}
		expired += int(n)
	}
	return expired, nil
}

// --- transaction-scoped helpers, grounded on the same query shapes as the
// non-transactional CRUD in entities.go but issued against a *sql.Tx so
// they participate in the caller's row locks. ---

func (s *Store) getContestTx(tx *sql.Tx, id string) (*model.Contest, error) {
	c := &model.Contest{}
	row := tx.QueryRow(`SELECT `+contestColumns+` FROM contests WHERE id = ?`, id)
	if err := scanContest(row, c); err == sql.ErrNoRows {
		return nil, notFound("contest not found")
	} else if err != nil {
		return nil, internalf("get contest", err)
	}
	return c, nil
}

func (s *Store) getSessionTx(tx *sql.Tx, id string) (*model.Session, error) {
	sess := &model.Session{}
	row := tx.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err := scanSession(row, sess); err == sql.ErrNoRows {
		return nil, notFound("session not found")
	} else if err != nil {
		return nil, internalf("get session", err)
	}
	return sess, nil
}

func (s *Store) getPromptTx(tx *sql.Tx, id string) (*model.Prompt, error) {
	p := &model.Prompt{}
	row := tx.QueryRow(`SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	if err := scanPrompt(row, p); err == sql.ErrNoRows {
		return nil, notFound("prompt not found")
	} else if err != nil {
		return nil, internalf("get prompt", err)
	}
	return p, nil
}

func (s *Store) listContestPromptsTx(tx *sql.Tx, contestID string) ([]model.ContestPrompt, error) {
	rows, err := tx.Query(
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

func insertEntryTx(tx *sql.Tx, e *model.Entry) error {
	_, err := tx.Exec(
		`INSERT INTO entries (user_id, contest_id, attempts_used, best_score, best_cpm, best_accuracy, last_attempt_at)
		 VALUES (?, ?, 0, NULL, NULL, NULL, NULL)`,
		e.UserID, e.ContestID,
	)
	if err != nil {
		return internalf("insert entry", err)
	}
	return nil
}

func updateEntryAttemptTx(tx *sql.Tx, e *model.Entry) error {
	var lastAttemptAt any
	if e.LastAttemptAt != nil {
		lastAttemptAt = timeStr(*e.LastAttemptAt)
	}
	_, err := tx.Exec(
		`UPDATE entries SET attempts_used = ?, last_attempt_at = ? WHERE user_id = ? AND contest_id = ?`,
		e.AttemptsUsed, lastAttemptAt, e.UserID, e.ContestID,
	)
	if err != nil {
		return internalf("update entry attempt", err)
	}
	return nil
}

func updateEntryAfterFinishTx(tx *sql.Tx, e *model.Entry) error {
	var lastAttemptAt any
	if e.LastAttemptAt != nil {
		lastAttemptAt = timeStr(*e.LastAttemptAt)
	}
	_, err := tx.Exec(
		`UPDATE entries SET best_score = ?, best_cpm = ?, best_accuracy = ?, last_attempt_at = ? WHERE user_id = ? AND contest_id = ?`,
		e.BestScore, e.BestCPM, e.BestAccuracy, lastAttemptAt, e.UserID, e.ContestID,
	)
	if err != nil {
		return internalf("update entry after finish", err)
	}
	return nil
}

func insertSessionTx(tx *sql.Tx, sess *model.Session) error {
	_, err := tx.Exec(
		`INSERT INTO sessions (id, user_id, contest_id, prompt_id, started_at, status, defocus_count, paste_blocked)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		sess.ID, sess.UserID, sess.ContestID, sess.PromptID, timeStr(sess.StartedAt), string(sess.Status),
	)
	if err != nil {
		return internalf("insert session", err)
	}
	return nil
}

func updateSessionResultTx(tx *sql.Tx, sess *model.Session) error {
	var endedAt any
	if sess.EndedAt != nil {
		endedAt = timeStr(*sess.EndedAt)
	}
	_, err := tx.Exec(
		`UPDATE sessions SET status = ?, ended_at = ?, cpm = ?, wpm = ?, accuracy = ?, errors = ?, score = ?,
		 defocus_count = ?, paste_blocked = ?, anomaly_score = ?, dq_reason = ? WHERE id = ?`,
		string(sess.Status), endedAt, sess.CPM, sess.WPM, sess.Accuracy, sess.Errors, sess.Score,
		sess.DefocusCount, boolToInt(sess.PasteBlocked), sess.AnomalyScore, sess.DQReason, sess.ID,
	)
	if err != nil {
		return internalf("update session result", err)
	}
	return nil
}

// replaceKeystrokesTx deletes any existing keylog for sessionID and
// re-inserts keylog as a unit (§4.6 step 6, §5 "Bounds"): keystrokes are
// replaced wholesale, never appended to.
func replaceKeystrokesTx(tx *sql.Tx, sessionID string, keylog []replay.Entry) error {
	if _, err := tx.Exec(`DELETE FROM keystrokes WHERE session_id = ?`, sessionID); err != nil {
		return internalf("delete keystrokes", err)
	}
	for idx, k := range keylog {
		ok := len([]rune(k.K)) == 1
		if k.OK != nil {
			ok = *k.OK
		}
		if _, err := tx.Exec(
			`INSERT INTO keystrokes (session_id, idx, t_ms, key, ok) VALUES (?, ?, ?, ?, ?)`,
			sessionID, idx, int64(k.T), k.K, boolToInt(ok),
		); err != nil {
			return internalf("insert keystroke "+strconv.Itoa(idx), err)
		}
	}
	return nil
}
