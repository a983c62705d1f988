package billing

import "github.com/guildhall-dev/guildhall/internal/model"

// tierRank orders tiers for upgrade/downgrade comparisons.
var tierRank = map[string]int{
	model.TierFree:        0,
	model.TierInitiate:    1,
	model.TierJourneyman:  2,
	model.TierSage:        3,
	model.TierGuildmaster: 4,
}

// ValidTier reports whether name is a known paid-or-free tier.
func ValidTier(name string) bool {
	_, ok := tierRank[name]
	return ok
}

// Allowance returns the per-cycle credit grant for a tier, falling back
// to zero for unknown names so a bad webhook payload cannot mint
// credits.
func Allowance(allowances map[string]int64, tier string) int64 {
	if !ValidTier(tier) {
		return 0
	}
	return allowances[tier]
}
