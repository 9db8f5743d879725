package archive

import (
	"fmt"
	"sync"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/progress"
)

// Phase is the lifecycle of one file in an archive run.
type Phase int

const (
	PhasePending Phase = iota
	PhaseDownloading
	PhaseDownloaded
	PhaseCompressing
	PhaseDone
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseDownloading:
		return "downloading"
	case PhaseDownloaded:
		return "downloaded"
	case PhaseCompressing:
		return "compressing"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Overall is the coarse status of the whole run. The weighted percent is
// only meaningful while downloading.
type Overall int

const (
	OverallDownloading Overall = iota
	OverallCompressing
	OverallComplete
)

func (o Overall) String() string {
	switch o {
	case OverallDownloading:
		return "downloading"
	case OverallCompressing:
		return "compressing"
	case OverallComplete:
		return "complete"
	default:
		return fmt.Sprintf("Overall(%d)", int(o))
	}
}

// FileProgress is the per-file view.
type FileProgress struct {
	Name       string
	Size       int64
	Downloaded int64
	Compressed int64
	Phase      Phase
	Err        error
}

// Progress is what onProgress receives.
type Progress struct {
	Overall Overall
	// Percent is byte weighted over the download phase.
	Percent int
	Files   []FileProgress
}

// state is shared by the fetchers and the zip writer. Callbacks are
// serialised under mu so subscribers see a consistent order.
type state struct {
	mu      sync.Mutex
	files   []FileProgress
	agg     *progress.Aggregator
	overall Overall
	publish func(Progress)
}

func newState(locs []bundle.ReadLocation, names []string, publish func(Progress)) *state {
	st := &state{files: make([]FileProgress, len(locs)), publish: publish}
	sizes := make([]int64, len(locs))
	for i, loc := range locs {
		st.files[i] = FileProgress{Name: names[i], Size: loc.Size}
		sizes[i] = loc.Size
	}
	st.agg = progress.NewAggregator(sizes)
	return st
}

func (s *state) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	if s.publish != nil {
		s.publish(s.snapshot())
	}
}

func (s *state) snapshot() Progress {
	files := make([]FileProgress, len(s.files))
	copy(files, s.files)
	return Progress{Overall: s.overall, Percent: s.agg.Percent(), Files: files}
}

func (s *state) phase(i int, p Phase) {
	s.update(func() {
		s.files[i].Phase = p
		if p == PhaseDownloaded {
			// the declared size may be stale; count the file as fully fetched
			s.agg.Apply(progress.Event{Index: i, Phase: bundle.PhaseComplete})
		}
	})
}

func (s *state) downloaded(i int, n int64) {
	s.update(func() {
		s.files[i].Downloaded = n
		s.agg.Apply(progress.Event{Index: i, Loaded: n, Phase: bundle.PhaseTransferring})
	})
}

func (s *state) compressed(i int, n int64) {
	s.update(func() { s.files[i].Compressed = n })
}

// fail marks a file as errored. Its weight counts as settled so the
// download percent can still reach 100.
func (s *state) fail(i int, err error) {
	s.update(func() {
		s.files[i].Phase = PhaseError
		s.files[i].Err = err
		s.agg.Apply(progress.Event{Index: i, Phase: bundle.PhaseComplete})
	})
}

func (s *state) setOverall(o Overall) {
	s.update(func() { s.overall = o })
}

func (s *state) result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &Result{Files: make([]FileProgress, len(s.files))}
	copy(res.Files, s.files)
	for _, f := range res.Files {
		switch f.Phase {
		case PhaseDone:
			res.Archived++
		case PhaseError:
			res.Failed++
		}
	}
	return res
}
