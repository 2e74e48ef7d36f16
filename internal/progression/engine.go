// Package progression folds qualifying attendance days into streak and tree growth state.
package progression

import (
	"math"
	"sort"

	"github.com/example/daily-engagement/internal/recurrence"
)

// DefaultMaturationDays is the number of qualifying days a tree needs to mature.
const DefaultMaturationDays = 5

// Rules parameterise the engine.
type Rules struct {
	MaturationDays int
}

func (r Rules) threshold() int {
	if r.MaturationDays <= 0 {
		return DefaultMaturationDays
	}
	return r.MaturationDays
}

// ActiveTree is the tree currently growing for a user.
type ActiveTree struct {
	StartedOn     recurrence.Date
	GrowthDays    int
	GrowthPercent float64
}

// Tree is a matured tree kept in the forest.
type Tree struct {
	ID            string
	StartedOn     recurrence.Date
	MaturedOn     recurrence.Date
	GrowthDays    int
	GrowthPercent float64
}

// State is a user's derived engagement state.
type State struct {
	CurrentStreak   int
	LongestStreak   int
	LastQualifiedOn recurrence.Date
	Tree            ActiveTree
	TotalTreesGrown int
	Forest          []Tree
}

// Outcome describes what Apply did.
type Outcome struct {
	// Counted is true when day advanced the state.
	Counted bool
	// AlreadyCounted is true when day equals the last qualifying date.
	AlreadyCounted bool
	// Stale is true when day precedes the last qualifying date.
	Stale bool
	// StreakReset is true when a gap restarted the streak at one.
	StreakReset bool
	// Matured holds the tree that reached maturity on day, if any.
	Matured *Tree
}

// GrowthPercent returns the growth of a tree after days qualifying days.
func GrowthPercent(days int, rules Rules) float64 {
	if days <= 0 {
		return 0
	}
	pct := float64(days) * 100 / float64(rules.threshold())
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*100) / 100
}

// Apply folds one qualifying day into state. The input state is not modified.
//
// A day directly following the last qualifying day extends the streak and the
// active tree. Any gap restarts both at one. Days on or before the last
// qualifying day leave the state untouched.
func Apply(state State, day recurrence.Date, rules Rules) (State, Outcome) {
	var outcome Outcome
	last := state.LastQualifiedOn
	gap := 0

	if !last.IsZero() {
		gap = day.DaysSince(last)
		switch {
		case gap == 0:
			outcome.AlreadyCounted = true
			return state, outcome
		case gap < 0:
			outcome.Stale = true
			return state, outcome
		}
	}

	next := state
	next.Forest = append([]Tree(nil), state.Forest...)

	if gap == 1 {
		next.CurrentStreak++
		next.Tree.GrowthDays++
	} else {
		outcome.StreakReset = !last.IsZero()
		next.CurrentStreak = 1
		next.Tree.GrowthDays = 1
	}
	if next.Tree.GrowthDays == 1 {
		next.Tree.StartedOn = day
	}
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	next.LastQualifiedOn = day
	next.Tree.GrowthPercent = GrowthPercent(next.Tree.GrowthDays, rules)

	if next.Tree.GrowthPercent >= 100 && next.Tree.GrowthDays >= rules.threshold() {
		matured := Tree{
			StartedOn:     next.Tree.StartedOn,
			MaturedOn:     day,
			GrowthDays:    next.Tree.GrowthDays,
			GrowthPercent: next.Tree.GrowthPercent,
		}
		next.Forest = append(next.Forest, matured)
		next.TotalTreesGrown++
		next.Tree = ActiveTree{}
		outcome.Matured = &matured
	}

	outcome.Counted = true
	return next, outcome
}

// Replay rebuilds state from scratch from a set of qualifying days.
// Duplicate days are counted once.
func Replay(days []recurrence.Date, rules Rules) State {
	sorted := append([]recurrence.Date(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var state State
	for _, day := range sorted {
		state, _ = Apply(state, day, rules)
	}
	return state
}
