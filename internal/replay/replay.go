// Package replay implements the pure keylog replay and anomaly engine
// (C3): replaying a timestamped keystroke sequence against a target
// string under a backspace policy, and computing interval statistics used
// for typing-rhythm anomaly detection.
package replay

import (
	"math"

	"golang.org/x/text/unicode/norm"
)

// Issue is a machine-readable replay diagnostic code.
type Issue string

const (
	IssueInvalidTimestamp   Issue = "INVALID_TIMESTAMP"
	IssueNegativeTimestamp  Issue = "NEGATIVE_TIMESTAMP"
	IssueTimestampNotSorted Issue = "TIMESTAMP_NOT_SORTED"
	IssueKeyLimitExceeded   Issue = "KEY_LIMIT_EXCEEDED"
)

// KeyLimit is the maximum number of keylog entries a single session may
// submit (§3, §5).
const KeyLimit = 2000

// backspaceAliases are the key values that implementations MUST treat as
// a backspace keystroke (§4.3 step 4).
var backspaceAliases = map[string]bool{
	"Backspace":    true,
	"BACKSPACE":    true,
	"BackspaceKey": true,
	"KeyBackspace": true,
}

// Entry is one timestamped keystroke event in a keylog, sorted
// non-decreasingly by T.
type Entry struct {
	T  float64
	K  string
	OK *bool
}

// Result is the outcome of replaying a keylog against a typing target.
type Result struct {
	Correct                  int
	Mistakes                 int
	Completed                bool
	DurationMs               float64
	Issues                   []Issue
	ForbiddenBackspaceCount  int
	Processed                int
}

// Replay runs the algorithm of §4.3 against target, honoring the
// allowBackspace policy. target is indexed as a sequence of NFC-normalized
// code points, never splitting combining sequences.
func Replay(target string, keylog []Entry, allowBackspace bool) Result {
	runes := []rune(norm.NFC.String(target))

	res := Result{Processed: len(keylog)}
	if res.Processed > KeyLimit {
		res.Issues = append(res.Issues, IssueKeyLimitExceeded)
	}

	p := 0
	lastTime := math.Inf(-1)
	firstTime := 0.0
	haveFirst := false

	for _, e := range keylog {
		t := e.T
		if math.IsNaN(t) || math.IsInf(t, 0) {
			res.Issues = append(res.Issues, IssueInvalidTimestamp)
			continue
		}
		if t < 0 {
			res.Issues = append(res.Issues, IssueNegativeTimestamp)
			continue
		}
		if !haveFirst {
			firstTime = t
			haveFirst = true
		}
		if t < lastTime {
			res.Issues = append(res.Issues, IssueTimestampNotSorted)
			t = lastTime
		}
		lastTime = t

		switch {
		case backspaceAliases[e.K]:
			if allowBackspace {
				if p > 0 {
					p--
				}
			} else {
				res.Mistakes++
				res.ForbiddenBackspaceCount++
			}
		case p >= len(runes):
			res.Mistakes++
		case e.K == string(runes[p]):
			p++
		default:
			res.Mistakes++
		}
	}

	res.Correct = p
	res.Completed = p >= len(runes)
	if haveFirst {
		d := lastTime - firstTime
		if d < 0 {
			d = 0
		}
		res.DurationMs = d
	}
	return res
}

// IntervalStats summarizes the pairwise non-negative deltas between
// consecutive keylog timestamps (§4.3 "Interval analysis").
type IntervalStats struct {
	Mean  float64
	Stdev float64
	// CV is Stdev/Mean, or +Inf if Mean is zero.
	CV    float64
	Count int
}

// Intervals computes IntervalStats over the (already-sorted) t values of
// keylog. Entries are taken in submission order, not re-sorted; callers
// that need sorted semantics should sort beforehand (sort.Float64s-style).
func Intervals(keylog []Entry) IntervalStats {
	if len(keylog) < 2 {
		count := len(keylog) - 1
		if count < 0 {
			count = 0
		}
		return IntervalStats{Count: count}
	}

	deltas := make([]float64, 0, len(keylog)-1)
	for i := 1; i < len(keylog); i++ {
		d := keylog[i].T - keylog[i-1].T
		if d < 0 {
			d = 0
		}
		deltas = append(deltas, d)
	}

	var sum float64
	for _, d := range deltas {
		sum += d
	}
	mean := sum / float64(len(deltas))

	var variance float64
	for _, d := range deltas {
		diff := d - mean
		variance += diff * diff
	}
	variance /= float64(len(deltas))
	stdev := math.Sqrt(variance)

	cv := math.Inf(1)
	if mean != 0 {
		cv = stdev / mean
	}

	return IntervalStats{Mean: mean, Stdev: stdev, CV: cv, Count: len(deltas)}
}
