package progress

import "math"

const (
	// SnapDistance is how close the display must be to snap to the target.
	SnapDistance = 0.5
	// MinStep is the smallest move per tick while outside SnapDistance.
	MinStep = 0.5
	// LargeGap separates the slow and fast closing rates.
	LargeGap = 10.0
	// LargeGapRate is the fraction of a large gap closed per tick.
	LargeGapRate = 0.3
	// SmallGapRate is the fraction of a small gap closed per tick.
	SmallGapRate = 0.7
)

// Smoother eases a displayed value toward the weighted percentage. The
// target only ever moves up, so the displayed value never regresses.
type Smoother struct {
	value   float64
	target  float64
	stopped bool
}

// SetTarget raises the target. Lower targets are ignored.
func (s *Smoother) SetTarget(t float64) {
	if s.stopped {
		return
	}
	t = math.Max(0, math.Min(100, t))
	if t > s.target {
		s.target = t
	}
}

// Step advances the display by one tick and returns it.
func (s *Smoother) Step() float64 {
	if s.stopped {
		return s.value
	}
	gap := s.target - s.value
	if gap <= 0 {
		return s.value
	}
	if gap <= SnapDistance {
		s.value = s.target
		return s.value
	}

	rate := SmallGapRate
	if gap > LargeGap {
		rate = LargeGapRate
	}
	step := math.Max(gap*rate, MinStep)
	s.value = math.Min(s.value+step, s.target)
	return s.value
}

// Snap jumps the display to the target.
func (s *Smoother) Snap() float64 {
	if !s.stopped {
		s.value = s.target
	}
	return s.value
}

// Stop freezes the display; later calls leave it untouched.
func (s *Smoother) Stop() { s.stopped = true }

// Value returns the current display value.
func (s *Smoother) Value() float64 { return s.value }

// Target returns the current target.
func (s *Smoother) Target() float64 { return s.target }
