package progress

import (
	"context"
	"time"
)

// DefaultTick is the smoothing interval used by the CLI.
const DefaultTick = 80 * time.Millisecond

// Snapshot is what subscribers see.
type Snapshot struct {
	// Percent is the exact weighted percentage.
	Percent int
	// Display is the smoothed value meant for humans.
	Display float64
	Files   []FileState
	// Final is set on the last snapshot of a session that ran to completion.
	Final bool
}

// Tracker owns an Aggregator and a Smoother for one session.
type Tracker struct {
	agg    *Aggregator
	smooth Smoother
}

// NewTracker creates a tracker weighted by the declared file sizes.
func NewTracker(totals []int64) *Tracker {
	return &Tracker{agg: NewAggregator(totals)}
}

// Run reduces events and publishes a snapshot on every tick that changed
// something. It returns when ctx is cancelled, without publishing again, or
// when events is closed, after publishing one final snapshot snapped to the
// weighted percentage.
func (t *Tracker) Run(ctx context.Context, events <-chan Event, ticks <-chan time.Time, publish func(Snapshot)) {
	lastDisplay := -1.0
	lastPercent := -1

	for {
		select {
		case <-ctx.Done():
			t.smooth.Stop()
			return

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					t.smooth.Stop()
					return
				}
				t.smooth.Snap()
				publish(t.snapshot(true))
				return
			}
			t.smooth.SetTarget(float64(t.agg.Apply(ev)))

		case <-ticks:
			if ctx.Err() != nil {
				t.smooth.Stop()
				return
			}
			display := t.smooth.Step()
			percent := t.agg.Percent()
			if display == lastDisplay && percent == lastPercent {
				continue
			}
			lastDisplay, lastPercent = display, percent
			publish(t.snapshot(false))
		}
	}
}

// Display returns the smoothed value. Call it only after Run returned.
func (t *Tracker) Display() float64 { return t.smooth.Value() }

func (t *Tracker) snapshot(final bool) Snapshot {
	return Snapshot{
		Percent: t.agg.Percent(),
		Display: t.smooth.Value(),
		Files:   t.agg.Files(),
		Final:   final,
	}
}
