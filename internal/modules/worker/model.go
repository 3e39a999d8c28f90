// README: Field worker model and candidate ranking.
package worker

import (
	"sort"
	"time"

	"sahay/internal/types"
)

// Worker is a field agent with a single fixed home station.
type Worker struct {
	ID              types.ID
	Name            string
	Station         string
	Approved        bool
	Eligible        bool
	Online          bool
	CurrentTaskID   *types.ID // non-nil means busy; soft exclusion signal
	Rating          float64
	ExperienceYears int
	CompletedCount  int
	LastOnlineAt    time.Time
	Languages       []string
}

// Assignable reports whether the worker can take new work at all. Busy is
// deliberately not checked here; it is a ranking signal, not a hard block.
func (w Worker) Assignable() bool {
	return w.Approved && w.Eligible
}

// Rank orders candidates best-first: online before offline, higher rating
// first, fewer open assignments first. Stable so equal candidates keep
// store order.
func Rank(candidates []Worker, openCounts map[types.ID]int) []Worker {
	ranked := make([]Worker, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Online != b.Online {
			return a.Online
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return openCounts[a.ID] < openCounts[b.ID]
	})
	return ranked
}
