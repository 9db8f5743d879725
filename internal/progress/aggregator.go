// Package progress turns per-file byte counters into one weighted
// percentage and a smoothed display value.
//
// The transfer engine publishes Events on a channel; Tracker is the single
// reducer of that channel and the UI only subscribes to Snapshots.
package progress

import "github.com/dmitrijs2005/dropbin/internal/bundle"

// Event reports the state of one file.
type Event struct {
	Index  int
	Loaded int64
	Total  int64
	Phase  bundle.FilePhase
}

// FileState is the reducer's view of one file.
type FileState struct {
	Loaded int64
	Total  int64
	Phase  bundle.FilePhase
}

// Aggregator is a pure reducer over Events. It is not safe for concurrent
// use; own it from one goroutine.
type Aggregator struct {
	files    []FileState
	sumTotal int64
	sumLoad  int64
}

// NewAggregator fixes the byte weights of a session. Σtotal never changes
// afterwards, whatever the events claim.
func NewAggregator(totals []int64) *Aggregator {
	a := &Aggregator{files: make([]FileState, len(totals))}
	for i, t := range totals {
		if t < 0 {
			t = 0
		}
		a.files[i] = FileState{Total: t}
		a.sumTotal += t
	}
	return a
}

// Apply folds ev into the state and returns the new weighted percent.
// Events for unknown indexes are ignored.
func (a *Aggregator) Apply(ev Event) int {
	if ev.Index < 0 || ev.Index >= len(a.files) {
		return a.Percent()
	}
	f := &a.files[ev.Index]

	loaded := ev.Loaded
	if ev.Phase == bundle.PhaseComplete {
		loaded = f.Total
	}
	if loaded < 0 {
		loaded = 0
	}
	if loaded > f.Total {
		loaded = f.Total
	}

	a.sumLoad += loaded - f.Loaded
	f.Loaded = loaded
	if ev.Phase > f.Phase {
		f.Phase = ev.Phase
	}
	return a.Percent()
}

// Percent is round(100 * Σloaded / Σtotal). A bundle of empty files is
// weighted by the number of completed files instead.
func (a *Aggregator) Percent() int {
	if len(a.files) == 0 {
		return 0
	}
	if a.sumTotal == 0 {
		done := 0
		for _, f := range a.files {
			if f.Phase == bundle.PhaseComplete {
				done++
			}
		}
		return roundPercent(int64(done), int64(len(a.files)))
	}
	return roundPercent(a.sumLoad, a.sumTotal)
}

// Files returns a copy of the per-file states.
func (a *Aggregator) Files() []FileState {
	out := make([]FileState, len(a.files))
	copy(out, a.files)
	return out
}

// Loaded returns Σloaded and Σtotal.
func (a *Aggregator) Loaded() (int64, int64) { return a.sumLoad, a.sumTotal }

func roundPercent(part, whole int64) int {
	if whole <= 0 {
		return 0
	}
	return int((200*part + whole) / (2 * whole))
}
