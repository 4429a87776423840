// Package evaluator implements the session evaluator (C4): composing the
// scoring kernel (C1) and the keylog replay engine (C3) into a verdict
// over a submitted attempt, together with the issue set and anti-cheat
// flags a caller (C6) needs to terminalize a session.
package evaluator

import (
	"math"

	"github.com/tapwave/typingarena/internal/model"
	"github.com/tapwave/typingarena/internal/replay"
	"github.com/tapwave/typingarena/internal/scoring"
)

// Issue is a machine-readable evaluation diagnostic code, in addition to
// the replay.Issue codes C3 may contribute.
type Issue string

const (
	IssueEntryNotFound      Issue = "ENTRY_NOT_FOUND"
	IssueMetricMismatch     Issue = "METRIC_MISMATCH"
	IssueErrorCountMismatch Issue = "ERROR_COUNT_MISMATCH"
	IssuePromptNotCompleted Issue = "PROMPT_NOT_COMPLETED"
	IssueBackspaceForbidden Issue = "BACKSPACE_FORBIDDEN"
	IssueTimeLimitExceeded  Issue = "TIME_LIMIT_EXCEEDED"
	IssueLowVarianceTyping  Issue = "LOW_VARIANCE_TYPING"
)

// errorCountTolerance is the allowed absolute difference between a
// client-reported error count and the authoritative mistake count (§4.4
// step 5, §9 "heuristics inherited from the source").
const errorCountTolerance = 1

// lowVarianceCV and lowVarianceMinSamples gate the LOW_VARIANCE_TYPING
// heuristic (§4.4 step 9).
const (
	lowVarianceCV         = 0.1
	lowVarianceMinSamples = 10
)

// networkSlackMs is added to a contest's time limit before flagging
// TIME_LIMIT_EXCEEDED (§4.4 step 8).
const networkSlackMs = 1000

// ClientFlags carries operational telemetry copied through from the
// client, used for anti-cheat review only — never trusted as ground
// truth (§4.4).
type ClientFlags struct {
	Defocus      int
	PasteBlocked bool
	AnomalyScore *float64
}

// Payload is a finish-session submission (§6 "Payload (finish)").
type Payload struct {
	Reported scoring.Reported
	Errors   *int
	Keylog   []replay.Entry
	Flags    ClientFlags
}

// Verdict is the session evaluator's terminal classification.
type Verdict string

const (
	VerdictFinished Verdict = "finished"
	VerdictExpired  Verdict = "expired"
	VerdictDQ       Verdict = "dq"
)

// dqIssues is the set of issues that force a DQ verdict regardless of
// completion (§4.4 "Verdict", §8 property 10).
var dqIssues = map[string]bool{
	string(IssueMetricMismatch):          true,
	string(replay.IssueKeyLimitExceeded): true,
	string(IssueBackspaceForbidden):      true,
}

// Result is the full output of Evaluate.
type Result struct {
	Verdict      Verdict
	Issues       []string
	Stats        scoring.Stats
	Mistakes     int
	Completed    bool
	Flags        ClientFlags
	DurationMs   float64
}

// Evaluate runs §4.4's steps against a submitted Payload for a running
// session, given the governing contest, prompt, and entry (nil if the
// caller never joined).
func Evaluate(contest model.Contest, prompt model.Prompt, entry *model.Entry, payload Payload) Result {
	var issues []string

	if entry == nil {
		issues = append(issues, string(IssueEntryNotFound))
	}

	replayResult := replay.Replay(prompt.TypingTarget, payload.Keylog, contest.AllowBackspace)
	for _, ri := range replayResult.Issues {
		issues = append(issues, string(ri))
	}

	elapsedMs := replayResult.DurationMs
	if elapsedMs < 1 {
		elapsedMs = 1
	}
	authoritative, err := scoring.Calculate(replayResult.Correct, replayResult.Mistakes, elapsedMs)
	if err != nil {
		// Replay output is always non-negative by construction; this
		// branch is unreachable in practice.
		authoritative = scoring.Stats{}
	}

	cmp := scoring.Compare(payload.Reported, authoritative, scoring.RelaxedTolerances)
	if !cmp.OK {
		issues = append(issues, string(IssueMetricMismatch))
	}

	if payload.Errors != nil {
		if math.Abs(float64(*payload.Errors-replayResult.Mistakes)) > errorCountTolerance {
			issues = append(issues, string(IssueErrorCountMismatch))
		}
	}

	if !replayResult.Completed && len([]rune(prompt.TypingTarget)) > 0 {
		issues = append(issues, string(IssuePromptNotCompleted))
	}

	if replayResult.ForbiddenBackspaceCount > 0 {
		issues = append(issues, string(IssueBackspaceForbidden))
	}

	if replayResult.DurationMs > float64(contest.TimeLimitSec)*1000+networkSlackMs {
		issues = append(issues, string(IssueTimeLimitExceeded))
	}

	interval := replay.Intervals(payload.Keylog)
	if interval.CV != 0 && interval.CV < lowVarianceCV && interval.Count > lowVarianceMinSamples {
		issues = append(issues, string(IssueLowVarianceTyping))
	}

	verdict := verdictFor(issues, replayResult.Completed)

	return Result{
		Verdict:    verdict,
		Issues:     issues,
		Stats:      authoritative,
		Mistakes:   replayResult.Mistakes,
		Completed:  replayResult.Completed,
		Flags:      payload.Flags,
		DurationMs: replayResult.DurationMs,
	}
}

func verdictFor(issues []string, completed bool) Verdict {
	for _, issue := range issues {
		if dqIssues[issue] {
			return VerdictDQ
		}
	}
	if !completed {
		return VerdictExpired
	}
	return VerdictFinished
}
