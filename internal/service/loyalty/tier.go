// internal/service/loyalty/tier.go
package loyalty

import (
	"fmt"
	"strings"

	"healthwallet-service/internal/domain/loyalty"
	xerrors "healthwallet-service/internal/pkg/errors"
)

// DefaultTiers is the tier table used when none is configured.
func DefaultTiers() []loyalty.Tier {
	return []loyalty.Tier{
		{
			Name:      "BRONZE",
			MinPoints: 0,
			MaxPoints: loyalty.Bound(999),
			Benefits:  []string{"Earn 1 point per 100 VND topped up"},
		},
		{
			Name:      "SILVER",
			MinPoints: 1000,
			MaxPoints: loyalty.Bound(4999),
			Benefits:  []string{"5% off consultation fees", "Priority booking window"},
		},
		{
			Name:      "GOLD",
			MinPoints: 5000,
			MaxPoints: loyalty.Bound(9999),
			Benefits:  []string{"10% off consultation fees", "Free follow-up within 7 days", "Priority booking window"},
		},
		{
			Name:      "PLATINUM",
			MinPoints: 10000,
			Benefits:  []string{"15% off consultation fees", "Free follow-up within 14 days", "Dedicated support line"},
		},
	}
}

// TierTable is a validated, ordered set of contiguous tiers covering [0, inf).
type TierTable struct {
	tiers []loyalty.Tier
}

// NewTierTable validates tiers and returns a table on which ComputeTier is total.
func NewTierTable(tiers []loyalty.Tier) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier table is empty: %w", xerrors.ErrInvalidInput)
	}

	seen := make(map[string]bool, len(tiers))
	var expectedMin int64
	for i, t := range tiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("tier %d has no name: %w", i, xerrors.ErrInvalidInput)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate tier %q: %w", name, xerrors.ErrInvalidInput)
		}
		seen[name] = true

		if t.MinPoints != expectedMin {
			if i == 0 {
				return nil, fmt.Errorf("first tier %q must start at 0, starts at %d: %w", name, t.MinPoints, xerrors.ErrInvalidInput)
			}
			if t.MinPoints < expectedMin {
				return nil, fmt.Errorf("tier %q overlaps previous tier at %d: %w", name, t.MinPoints, xerrors.ErrInvalidInput)
			}
			return nil, fmt.Errorf("gap before tier %q: points %d..%d unmapped: %w", name, expectedMin, t.MinPoints-1, xerrors.ErrInvalidInput)
		}

		last := i == len(tiers)-1
		if t.Unbounded() {
			if !last {
				return nil, fmt.Errorf("only the last tier may be unbounded, %q is not last: %w", name, xerrors.ErrInvalidInput)
			}
			break
		}
		if last {
			return nil, fmt.Errorf("last tier %q must be unbounded: %w", name, xerrors.ErrInvalidInput)
		}
		upper := *t.MaxPoints
		if upper < t.MinPoints {
			return nil, fmt.Errorf("tier %q has max %d below min %d: %w", name, upper, t.MinPoints, xerrors.ErrInvalidInput)
		}
		expectedMin = upper + 1
	}

	return &TierTable{tiers: cloneTiers(tiers)}, nil
}

// MustTierTable is NewTierTable for tables known at compile time.
func MustTierTable(tiers []loyalty.Tier) *TierTable {
	t, err := NewTierTable(tiers)
	if err != nil {
		panic(err)
	}
	return t
}

// ComputeTier returns the single tier containing points.
// Negative input is clamped to the first tier.
func (t *TierTable) ComputeTier(points int64) loyalty.Tier {
	if points < 0 {
		return t.tiers[0]
	}
	// last tier whose MinPoints <= points
	lo, hi := 0, len(t.tiers)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t.tiers[mid].MinPoints <= points {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return t.tiers[lo]
}

// NextTier returns the tier after the one containing points and how many
// points are still missing. ok is false at the top tier.
func (t *TierTable) NextTier(points int64) (next loyalty.Tier, missing int64, ok bool) {
	current := t.ComputeTier(points)
	for i, tier := range t.tiers {
		if tier.Name != current.Name || i == len(t.tiers)-1 {
			continue
		}
		next = t.tiers[i+1]
		if points < 0 {
			points = 0
		}
		return next, next.MinPoints - points, true
	}
	return loyalty.Tier{}, 0, false
}

// Tiers returns a copy of the table, lowest tier first.
func (t *TierTable) Tiers() []loyalty.Tier {
	return cloneTiers(t.tiers)
}

func cloneTiers(tiers []loyalty.Tier) []loyalty.Tier {
	out := make([]loyalty.Tier, len(tiers))
	for i, t := range tiers {
		out[i] = t
		if t.MaxPoints != nil {
			out[i].MaxPoints = loyalty.Bound(*t.MaxPoints)
		}
	}
	return out
}
