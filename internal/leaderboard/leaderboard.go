// Package leaderboard implements the pure leaderboard projector (C5):
// sorting finished sessions by a total order, assigning standard competition
// ranks (1,2,2,4) that honor full-tuple ties, and extracting a single
// caller's rank.
package leaderboard

import (
	"sort"
	"time"
)

// Session is the minimal view of a finished session the projector needs.
// The store (C6) is responsible for filtering to FINISHED sessions before
// calling BuildLeaderboard; the projector itself does not re-check status.
type Session struct {
	SessionID string
	UserID    string
	Username  string
	Score     int
	Accuracy  float64
	CPM       float64
	EndedAt   time.Time
}

// Ranked pairs a Session with its assigned rank.
type Ranked struct {
	Session
	Rank int
}

// Summary is the top slice of a leaderboard plus the total entry count.
type Summary struct {
	Top   []Ranked
	Total int
}

const topN = 10

// less implements the total order of §4.5: score desc, accuracy desc, cpm
// desc, endedAt asc.
func less(a, b Session) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Accuracy != b.Accuracy {
		return a.Accuracy > b.Accuracy
	}
	if a.CPM != b.CPM {
		return a.CPM > b.CPM
	}
	return a.EndedAt.Before(b.EndedAt)
}

// tiedWith reports whether a and b share a rank: all four ordering keys
// pairwise equal.
func tiedWith(a, b Session) bool {
	return a.Score == b.Score &&
		a.Accuracy == b.Accuracy &&
		a.CPM == b.CPM &&
		a.EndedAt.Equal(b.EndedAt)
}

// BuildLeaderboard sorts sessions by the §4.5 total order and assigns
// standard competition ranks (1,2,2,4), returning the full ranked list
// plus a Summary of the top 10 and the input length.
func BuildLeaderboard(sessions []Session) ([]Ranked, Summary) {
	sorted := make([]Session, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	ranked := make([]Ranked, len(sorted))
	for i, s := range sorted {
		rank := i + 1
		if i > 0 && tiedWith(sorted[i-1], s) {
			rank = ranked[i-1].Rank
		}
		ranked[i] = Ranked{Session: s, Rank: rank}
	}

	top := ranked
	if len(top) > topN {
		top = top[:topN]
	}
	summary := Summary{Top: append([]Ranked(nil), top...), Total: len(ranked)}

	return ranked, summary
}

// ExtractPersonalRank returns the first ranked entry belonging to userID,
// or nil if that user has no entry in ranked. Callers wanting only a
// best-per-user view must deduplicate the input to BuildLeaderboard
// upstream (§4.5).
func ExtractPersonalRank(ranked []Ranked, userID string) *Ranked {
	for _, r := range ranked {
		if r.UserID == userID {
			rc := r
			return &rc
		}
	}
	return nil
}
