package billing

import (
	"math"

	"carebase/internal/types"
)

// planRanks orders the commercial tiers for upgrade/downgrade comparison.
// The ranking is explicit rather than derived from catalog ordering so that
// adding a tier cannot silently reorder comparisons. Demo is a non-commercial
// preview tier and compares as lateral against everything.
var planRanks = map[types.PlanTier]int{
	types.PlanFree:     0,
	types.PlanStandard: 1,
	types.PlanAI:       2,
}

// ComparePlans classifies a plan change as upgrade, downgrade, or lateral.
// It is total over all tier combinations: demo and unrecognized tiers are
// unranked and always compare as lateral.
func ComparePlans(current, candidate types.PlanTier) types.PlanChange {
	curRank, curOK := planRanks[current]
	candRank, candOK := planRanks[candidate]
	if !curOK || !candOK {
		return types.PlanChangeLateral
	}
	switch {
	case candRank > curRank:
		return types.PlanChangeUpgrade
	case candRank < curRank:
		return types.PlanChangeDowngrade
	default:
		return types.PlanChangeLateral
	}
}

// CalculateMonthOverMonthGrowth compares a metric against the previous month.
//
// A zero base cannot produce a meaningful percentage, so lastMonth == 0
// always yields neutral/0 -- including when thisMonth grew from nothing.
// This is a deliberate display policy: reporting "infinite" growth to end
// users is worse than reporting no trend.
func CalculateMonthOverMonthGrowth(thisMonth, lastMonth int) types.GrowthResult {
	if lastMonth == 0 {
		return types.GrowthResult{Direction: types.GrowthNeutral, Percentage: 0}
	}

	diff := thisMonth - lastMonth
	pct := int(math.Round(math.Abs(float64(diff)) / float64(lastMonth) * 100))

	direction := types.GrowthNeutral
	switch {
	case diff > 0:
		direction = types.GrowthUp
	case diff < 0:
		direction = types.GrowthDown
	}
	return types.GrowthResult{Direction: direction, Percentage: pct}
}
