package bundle

import (
	"fmt"
	"time"
)

// Tier is the caller's account level. It decides the size ceiling and
// whether extended retention is allowed.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierFree      Tier = "free"
	TierPlus      Tier = "plus"
	TierPro       Tier = "pro"
)

const (
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
)

// TierLimit returns the per-file and per-bundle byte ceiling for tier.
// Unknown tiers get the anonymous limit.
func TierLimit(t Tier) int64 {
	switch t {
	case TierPlus:
		return 1 * GiB
	case TierPro:
		return 5 * GiB
	default:
		return 50 * MiB
	}
}

// Elevated reports whether the tier is a paid plan.
func (t Tier) Elevated() bool { return t == TierPlus || t == TierPro }

// ParseTier maps a string to a Tier, defaulting to anonymous.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierFree, TierPlus, TierPro:
		return Tier(s)
	default:
		return TierAnonymous
	}
}

// Retention is the selected lifetime of a bundle, as a time code.
type Retention string

const (
	Retention30m Retention = "30m"
	Retention24h Retention = "24h"
	Retention7d  Retention = "7d"
)

// DefaultRetention is used when the caller does not pick one.
const DefaultRetention = Retention24h

// Duration returns the lifetime encoded by the time code.
func (r Retention) Duration() (time.Duration, error) {
	switch r {
	case Retention30m:
		return 30 * time.Minute, nil
	case Retention24h:
		return 24 * time.Hour, nil
	case Retention7d:
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown retention code %q", string(r))
	}
}

// Extended reports whether the retention needs an elevated tier.
func (r Retention) Extended() bool { return r == Retention7d }
