// Package model defines the entities of the typing contest domain, shared
// across the scoring, policy, replay, evaluator, leaderboard, and store
// packages.
package model

import "time"

// Role is a principal's authorization level. The core never decodes
// tokens; the transport hands it a verified Role alongside a UserID.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is the verified caller identity handed to the core by the
// (out-of-scope) authentication subsystem.
type Principal struct {
	UserID string
	Role   Role
}

// Visibility controls who may discover and join a contest.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// LeaderboardVisibility controls when a contest's leaderboard may be read.
type LeaderboardVisibility string

const (
	LeaderboardDuring LeaderboardVisibility = "during"
	LeaderboardAfter  LeaderboardVisibility = "after"
	LeaderboardHidden LeaderboardVisibility = "hidden"
)

// Language identifies the prompt language/script family a contest draws from.
type Language string

const (
	LanguageRomaji  Language = "romaji"
	LanguageEnglish Language = "english"
	LanguageKana    Language = "kana"
)

// ContestStatus is the time-derived lifecycle phase of a contest (§4.2).
type ContestStatus string

const (
	ContestScheduled ContestStatus = "scheduled"
	ContestRunning   ContestStatus = "running"
	ContestFinished  ContestStatus = "finished"
)

// SessionStatus is a session's terminal-state machine (§3).
type SessionStatus string

const (
	SessionRunning  SessionStatus = "running"
	SessionFinished SessionStatus = "finished"
	SessionExpired  SessionStatus = "expired"
	SessionDQ       SessionStatus = "dq"
)

// User is an account holder. Password hashing and refresh-token issuance
// are delegated to an opaque auth collaborator; the core only persists
// the resulting records.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Contest is a scheduled typing competition.
type Contest struct {
	ID                    string
	Title                 string
	Description           string
	Visibility            Visibility
	JoinCode              *string
	StartsAt              time.Time
	EndsAt                time.Time
	Timezone              string
	TimeLimitSec          int
	AllowBackspace        bool
	LeaderboardVisibility LeaderboardVisibility
	Language              Language
	// MaxAttempts is nullable: nil means the contest imposes no attempt cap.
	// See DESIGN.md "Open Questions" #1.
	MaxAttempts *int
	CreatedBy   string
	CreatedAt   time.Time
}

// Prompt is a (displayText, typingTarget) pair a user must reproduce.
type Prompt struct {
	ID          string
	Language    Language
	DisplayText string
	TypingTarget string
	Tags        []string
	IsActive    bool
	CreatedAt   time.Time
}

// ContestPrompt orders the prompt pool for a contest.
type ContestPrompt struct {
	ContestID  string
	PromptID   string
	OrderIndex int
}

// Entry is the per-(user,contest) aggregate of attempts and best-ever
// metrics.
type Entry struct {
	UserID        string
	ContestID     string
	AttemptsUsed  int
	BestScore     *int
	BestCPM       *float64
	BestAccuracy  *float64
	LastAttemptAt *time.Time
}

// Session is a single timed typing attempt.
type Session struct {
	ID          string
	UserID      string
	ContestID   string
	PromptID    string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      SessionStatus
	CPM         *float64
	WPM         *float64
	Accuracy    *float64
	Errors      *int
	Score       *int
	DefocusCount int
	PasteBlocked bool
	AnomalyScore *float64
	DQReason     *string
}

// Keystroke is one bounded child row of a Session, replaced as a unit on
// finish. At most 2,000 rows exist per session.
type Keystroke struct {
	SessionID string
	Idx       int
	TMs       int64
	Key       string
	OK        bool
}

// RefreshToken is an auth collaborator entity; the core only persists it.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
