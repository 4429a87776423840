package scoring

import (
	"math"
	"testing"
)

func TestCalculateCleanRun(t *testing.T) {
	stats, err := Calculate(6, 0, 2150)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if math.Abs(stats.CPM-167.44186046511628) > 1e-6 {
		t.Errorf("expected cpm~167.44, got %v", stats.CPM)
	}
	if math.Abs(stats.WPM-33.48837209302326) > 1e-6 {
		t.Errorf("expected wpm~33.49, got %v", stats.WPM)
	}
	if stats.Accuracy != 1 {
		t.Errorf("expected accuracy 1, got %v", stats.Accuracy)
	}
	if stats.Score != 83 {
		t.Errorf("expected score 83, got %v", stats.Score)
	}
}

func TestCalculateNegativeArgsRejected(t *testing.T) {
	if _, err := Calculate(-1, 0, 1000); err == nil {
		t.Fatal("expected error for negative correct")
	}
	if _, err := Calculate(0, -1, 1000); err == nil {
		t.Fatal("expected error for negative mistakes")
	}
}

func TestCalculateDegenerateElapsed(t *testing.T) {
	stats, err := Calculate(5, 0, 0)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if stats.CPM != 0 || stats.WPM != 0 || stats.Score != 0 {
		t.Errorf("expected zeroed rate metrics for non-positive elapsed, got %+v", stats)
	}
	if stats.Accuracy != 1 {
		t.Errorf("expected accuracy 1 with zero mistakes, got %v", stats.Accuracy)
	}

	stats, err = Calculate(0, 3, 0)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if stats.Accuracy != 0 {
		t.Errorf("expected accuracy 0 with mistakes present and no elapsed time, got %v", stats.Accuracy)
	}
}

// TestAccuracyBounds is §8 property 2.
func TestAccuracyBounds(t *testing.T) {
	cases := []struct{ correct, mistakes int }{
		{0, 0}, {10, 0}, {0, 10}, {5, 5}, {1, 1000},
	}
	for _, c := range cases {
		stats, err := Calculate(c.correct, c.mistakes, 1000)
		if err != nil {
			t.Fatalf("Calculate(%d,%d): %v", c.correct, c.mistakes, err)
		}
		if stats.Accuracy < 0 || stats.Accuracy > 1 {
			t.Errorf("Calculate(%d,%d) accuracy out of bounds: %v", c.correct, c.mistakes, stats.Accuracy)
		}
	}
}

// TestScoreMonotonicInCorrectness is §8 property 3.
func TestScoreMonotonicInCorrectness(t *testing.T) {
	mistakes, elapsed := 2, 5000.0
	prevScore := -1
	for correct := 0; correct <= 20; correct++ {
		stats, err := Calculate(correct, mistakes, elapsed)
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		if stats.Score < prevScore {
			t.Fatalf("score decreased at correct=%d: %d < %d", correct, stats.Score, prevScore)
		}
		prevScore = stats.Score
	}
}

func TestCompareWithinTolerance(t *testing.T) {
	authoritative := Stats{CPM: 100, WPM: 20, Accuracy: 0.9, Score: 50}
	reported := Reported{CPM: 100.5, WPM: 20.2, Accuracy: 0.905, Score: 50}
	cmp := Compare(reported, authoritative, DefaultTolerances)
	if !cmp.OK {
		t.Fatalf("expected comparison OK within default tolerances, got %+v", cmp)
	}
}

func TestCompareOutsideTolerance(t *testing.T) {
	authoritative := Stats{CPM: 120, Accuracy: 1}
	reported := Reported{CPM: 50, WPM: 10, Accuracy: 0.5, Score: 10}
	cmp := Compare(reported, authoritative, DefaultTolerances)
	if cmp.OK {
		t.Fatal("expected comparison to fail for wildly divergent metrics")
	}
}

func TestCompareNaNReportedFailsField(t *testing.T) {
	authoritative := Stats{CPM: 100}
	reported := Reported{CPM: math.NaN()}
	cmp := Compare(reported, authoritative, DefaultTolerances)
	if !math.IsInf(cmp.DeltaCPM, 1) {
		t.Fatalf("expected +Inf delta for NaN reported field, got %v", cmp.DeltaCPM)
	}
	if cmp.OK {
		t.Fatal("expected comparison to fail when a reported field is NaN")
	}
}
