// Package policy implements the pure contest-admission predicates (C2):
// status derivation, leaderboard visibility, session-start validation,
// join-code requirement, and remaining-attempt accounting.
package policy

import (
	"fmt"
	"time"

	"github.com/tapwave/typingarena/internal/model"
)

// Reason is a machine-readable validation failure code, safe to surface
// to an operator-facing review UI. It is not a user-facing message.
type Reason string

const (
	ReasonContestNotRunning   Reason = "CONTEST_NOT_RUNNING"
	ReasonEntryNotFound       Reason = "ENTRY_NOT_FOUND"
	ReasonAttemptsExhausted   Reason = "ATTEMPTS_EXHAUSTED"
)

// ValidationError reports why a caller may not start a session.
type ValidationError struct {
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy: VALIDATION: %s", e.Reason)
}

// Status derives the contest's time-bounded lifecycle phase (§4.2).
//
// contest.StartsAt and EndsAt are assumed already validated at ingestion
// (startsAt < endsAt); an inverted range here is a programmer error.
func Status(contest model.Contest, now time.Time) model.ContestStatus {
	if now.Before(contest.StartsAt) {
		return model.ContestScheduled
	}
	if !now.Before(contest.EndsAt) {
		return model.ContestFinished
	}
	return model.ContestRunning
}

// LeaderboardVisible reports whether the leaderboard may be shown at now,
// per the contest's LeaderboardVisibility setting.
func LeaderboardVisible(contest model.Contest, now time.Time) bool {
	switch contest.LeaderboardVisibility {
	case model.LeaderboardDuring:
		return Status(contest, now) == model.ContestRunning
	case model.LeaderboardAfter:
		return Status(contest, now) == model.ContestFinished
	case model.LeaderboardHidden:
		return false
	default:
		return false
	}
}

// RequiresJoinCode reports whether joining the contest requires a code.
func RequiresJoinCode(contest model.Contest) bool {
	return contest.Visibility == model.VisibilityPrivate
}

// RemainingAttempts reports how many attempts a caller has left. entry may
// be nil (caller has not joined yet); in that case the full MaxAttempts
// budget is reported. A contest with no cap is reported as unlimited=true
// with remaining=0; no large sentinel count is used.
func RemainingAttempts(contest model.Contest, entry *model.Entry) (remaining int, unlimited bool) {
	if contest.MaxAttempts == nil {
		return 0, true
	}
	used := 0
	if entry != nil {
		used = entry.AttemptsUsed
	}
	remaining = *contest.MaxAttempts - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false
}

// ValidateSessionStart decides whether a caller may start a new session
// against contest at now, per §4.2. entry may be nil when the caller has
// never joined.
func ValidateSessionStart(contest model.Contest, entry *model.Entry, now time.Time) error {
	if Status(contest, now) != model.ContestRunning {
		return &ValidationError{Reason: ReasonContestNotRunning}
	}
	if entry == nil {
		return &ValidationError{Reason: ReasonEntryNotFound}
	}
	if contest.MaxAttempts != nil && entry.AttemptsUsed >= *contest.MaxAttempts {
		return &ValidationError{Reason: ReasonAttemptsExhausted}
	}
	return nil
}
