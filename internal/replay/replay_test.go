package replay

import (
	"math"
	"testing"
)

func TestReplayCleanRun(t *testing.T) {
	keylog := []Entry{
		{T: 0, K: "r"}, {T: 310, K: "o"}, {T: 660, K: "m"}, {T: 1000, K: "a"}, {T: 1500, K: "j"}, {T: 2150, K: "i"},
	}
	res := Replay("romaji", keylog, true)
	if res.Correct != 6 {
		t.Errorf("expected correct=6, got %d", res.Correct)
	}
	if res.Mistakes != 0 {
		t.Errorf("expected mistakes=0, got %d", res.Mistakes)
	}
	if !res.Completed {
		t.Error("expected completed")
	}
	if res.DurationMs != 2150 {
		t.Errorf("expected durationMs=2150, got %v", res.DurationMs)
	}
	if len(res.Issues) != 0 {
		t.Errorf("expected no issues, got %v", res.Issues)
	}
}

func TestReplayForbiddenBackspace(t *testing.T) {
	keylog := []Entry{
		{T: 0, K: "a"}, {T: 300, K: "Backspace"}, {T: 600, K: "a"}, {T: 900, K: "b"},
	}
	res := Replay("ab", keylog, false)
	if res.ForbiddenBackspaceCount != 1 {
		t.Errorf("expected 1 forbidden backspace, got %d", res.ForbiddenBackspaceCount)
	}
	if res.Correct != 2 {
		t.Errorf("expected correct=2, got %d", res.Correct)
	}
}

func TestReplayAllowedBackspaceRewindsPointer(t *testing.T) {
	keylog := []Entry{
		{T: 0, K: "a"}, {T: 100, K: "c"}, {T: 200, K: "Backspace"}, {T: 300, K: "a"}, {T: 400, K: "b"},
	}
	res := Replay("ab", keylog, true)
	if res.Correct != 2 {
		t.Errorf("expected correct=2 after rewind+retype, got %d", res.Correct)
	}
	if res.Mistakes != 1 {
		t.Errorf("expected mistakes=1, got %d", res.Mistakes)
	}
	if !res.Completed {
		t.Error("expected completed")
	}
}

func TestReplayNegativeTimestampSkipped(t *testing.T) {
	keylog := []Entry{
		{T: -5, K: "a"}, {T: 0, K: "a"}, {T: 50, K: "b"},
	}
	res := Replay("ab", keylog, true)
	found := false
	for _, issue := range res.Issues {
		if issue == IssueNegativeTimestamp {
			found = true
		}
	}
	if !found {
		t.Errorf("expected NEGATIVE_TIMESTAMP issue, got %v", res.Issues)
	}
	if res.Correct != 2 {
		t.Errorf("expected the negative-timestamp keystroke to be skipped, correct=%d", res.Correct)
	}
}

func TestReplayOutOfOrderTimestampClamped(t *testing.T) {
	keylog := []Entry{
		{T: 100, K: "a"}, {T: 50, K: "b"},
	}
	res := Replay("ab", keylog, true)
	found := false
	for _, issue := range res.Issues {
		if issue == IssueTimestampNotSorted {
			found = true
		}
	}
	if !found {
		t.Errorf("expected TIMESTAMP_NOT_SORTED issue, got %v", res.Issues)
	}
	if res.DurationMs != 0 {
		t.Errorf("expected clamped duration of 0, got %v", res.DurationMs)
	}
}

func TestReplayKeyLimitExceeded(t *testing.T) {
	keylog := make([]Entry, KeyLimit+1)
	for i := range keylog {
		keylog[i] = Entry{T: float64(i), K: "x"}
	}
	res := Replay("x", keylog, true)
	found := false
	for _, issue := range res.Issues {
		if issue == IssueKeyLimitExceeded {
			found = true
		}
	}
	if !found {
		t.Error("expected KEY_LIMIT_EXCEEDED issue")
	}
	if res.Processed != len(keylog) {
		t.Errorf("expected processed=%d, got %d", len(keylog), res.Processed)
	}
}

func TestReplayMultiCodepointTarget(t *testing.T) {
	// A combining-diacritic target ("e" + COMBINING ACUTE ACCENT) must
	// NFC-normalize to a single code point before replay.
	target := "é" // é decomposed
	keylog := []Entry{{T: 0, K: "é"}}
	res := Replay(target, keylog, true)
	if res.Correct != 1 {
		t.Errorf("expected correct=1 after NFC normalization, got %d", res.Correct)
	}
	if !res.Completed {
		t.Error("expected completed for single-codepoint combined target")
	}
}

// TestReplayConservation is §8 property 4.
func TestReplayConservation(t *testing.T) {
	keylog := []Entry{
		{T: 0, K: "a"}, {T: 100, K: "z"}, {T: 200, K: "b"}, {T: 300, K: "Backspace"},
	}
	res := Replay("ab", keylog, false)
	if res.Correct+res.Mistakes > res.Processed+res.ForbiddenBackspaceCount {
		t.Errorf("conservation violated: correct=%d mistakes=%d processed=%d forbidden=%d",
			res.Correct, res.Mistakes, res.Processed, res.ForbiddenBackspaceCount)
	}
}

func TestIntervalsFewSamples(t *testing.T) {
	stats := Intervals(nil)
	if stats.Count != 0 {
		t.Errorf("expected count 0 for empty keylog, got %d", stats.Count)
	}
	stats = Intervals([]Entry{{T: 0, K: "a"}})
	if stats.Count != 0 {
		t.Errorf("expected count 0 for single entry, got %d", stats.Count)
	}
}

func TestIntervalsLowVariance(t *testing.T) {
	keylog := make([]Entry, 0, 12)
	for i := 0; i < 12; i++ {
		keylog = append(keylog, Entry{T: float64(i * 100), K: "a"})
	}
	stats := Intervals(keylog)
	if stats.CV > 0.01 {
		t.Errorf("expected near-zero CV for perfectly uniform intervals, got %v", stats.CV)
	}
	if stats.Count != 11 {
		t.Errorf("expected 11 intervals over 12 keystrokes, got %d", stats.Count)
	}
}

func TestIntervalsZeroMeanIsInfiniteCV(t *testing.T) {
	keylog := []Entry{{T: 0, K: "a"}, {T: 0, K: "b"}, {T: 0, K: "c"}}
	stats := Intervals(keylog)
	if stats.Mean != 0 {
		t.Errorf("expected mean 0, got %v", stats.Mean)
	}
	if !isInf(stats.CV) {
		t.Errorf("expected +Inf CV for zero mean, got %v", stats.CV)
	}
}

func isInf(f float64) bool {
	return math.IsInf(f, 1)
}
