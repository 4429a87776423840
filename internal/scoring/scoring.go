// Package scoring implements the pure scoring kernel (C1): computing
// authoritative typing metrics from replayed keystroke counts, and
// comparing a client-reported metric set against the authoritative one
// within per-field tolerances.
package scoring

import (
	"fmt"
	"math"
)

// Stats is the set of metrics derived from a single attempt.
type Stats struct {
	CPM      float64
	WPM      float64
	Accuracy float64
	Score    int
}

// Tolerances bounds the acceptable absolute delta between a reported and
// an authoritative Stats value, per field.
type Tolerances struct {
	CPM      float64
	WPM      float64
	Accuracy float64
	Score    float64
}

// DefaultTolerances are the baseline comparison tolerances (§4.1).
var DefaultTolerances = Tolerances{CPM: 1.0, WPM: 1.0, Accuracy: 0.02, Score: 1}

// RelaxedTolerances are the tolerances the session evaluator (C4) uses in
// place of DefaultTolerances, to forgive network jitter (§4.1, §4.4 step 4).
var RelaxedTolerances = Tolerances{CPM: 1.5, WPM: 1.5, Accuracy: 0.05, Score: 2}

// Reported is a client-submitted metric set. Fields may be missing (NaN),
// which forces Compare to fail that field with an infinite delta.
type Reported struct {
	CPM      float64
	WPM      float64
	Accuracy float64
	Score    float64
}

// Comparison is the per-field result of comparing Reported against an
// authoritative Stats.
type Comparison struct {
	OK          bool
	DeltaCPM    float64
	DeltaWPM    float64
	DeltaAcc    float64
	DeltaScore  float64
}

// Calculate computes authoritative Stats from replayed keystroke counts
// and an elapsed duration, per §4.1.
//
// correct and mistakes must be non-negative; elapsedMs must not be
// negative (it may be zero or a small positive "at least 1ms" floor, per
// the evaluator's elapsedMs = max(durationMs, 1) convention). Negative
// correct/mistakes are a programmer error reported as INVALID_ARGUMENT.
func Calculate(correct, mistakes int, elapsedMs float64) (Stats, error) {
	if correct < 0 || mistakes < 0 {
		return Stats{}, fmt.Errorf("scoring: INVALID_ARGUMENT: correct and mistakes must be non-negative, got correct=%d mistakes=%d", correct, mistakes)
	}

	total := correct + mistakes
	accuracy := 1.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	if elapsedMs <= 0 {
		acc := 0.0
		if mistakes == 0 {
			acc = 1.0
		}
		return Stats{CPM: 0, WPM: 0, Accuracy: acc, Score: 0}, nil
	}

	elapsedMinutes := elapsedMs / 60000
	cpm := float64(correct) / elapsedMinutes
	wpm := cpm / 5
	score := int(math.Floor(cpm * accuracy * accuracy / 2))

	return Stats{CPM: cpm, WPM: wpm, Accuracy: accuracy, Score: score}, nil
}

// Compare checks a Reported metric set against authoritative Stats within
// tol, per §4.1. A NaN reported field marks that field's delta as +Inf and
// forces OK=false.
func Compare(reported Reported, authoritative Stats, tol Tolerances) Comparison {
	deltaCPM := fieldDelta(reported.CPM, authoritative.CPM)
	deltaWPM := fieldDelta(reported.WPM, authoritative.WPM)
	deltaAcc := fieldDelta(reported.Accuracy, authoritative.Accuracy)
	deltaScore := fieldDelta(reported.Score, float64(authoritative.Score))

	ok := deltaCPM <= tol.CPM &&
		deltaWPM <= tol.WPM &&
		deltaAcc <= tol.Accuracy &&
		deltaScore <= tol.Score

	return Comparison{
		OK:         ok,
		DeltaCPM:   deltaCPM,
		DeltaWPM:   deltaWPM,
		DeltaAcc:   deltaAcc,
		DeltaScore: deltaScore,
	}
}

func fieldDelta(reported, authoritative float64) float64 {
	if math.IsNaN(reported) {
		return math.Inf(1)
	}
	d := reported - authoritative
	if d < 0 {
		d = -d
	}
	return d
}
