package billing

import "carebase/internal/types"

// taxRatePercent is the consumption tax rate applied to the pre-tax subtotal.
const taxRatePercent = 10

// FeeInput is the subscription pricing context the engine computes from.
// Counts must be non-negative; ActiveProducts carries full catalog records
// (resolve IDs with ResolveProducts first so dangling references are skipped
// rather than charged).
type FeeInput struct {
	Plan                types.PlanTier
	DeviceCount         int
	ActiveProducts      []Product
	AIEnabledProductIDs []string
	StaffCount          int
	FreeStaffAllowance  int
	PreviousDiscount    int
}

// ProductFeeDetail is one line of the itemized breakdown.
// Subtotal is the product's standard price plus its AI surcharge when the
// surcharge is effective.
type ProductFeeDetail struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	AIEnabled   bool   `json:"ai_enabled"`
	Subtotal    int    `json:"subtotal"`
}

// PricingBreakdown is the itemized monthly invoice computation result.
// It is computed fresh on every request and never persisted as the source of
// truth. Invariants: Subtotal == DeviceFee + ProductFees + AIFees and
// Total == Subtotal + Tax; all amounts are non-negative yen.
type PricingBreakdown struct {
	Plan               types.PlanTier     `json:"plan"`
	DeviceFee          int                `json:"device_fee"`
	ProductFees        int                `json:"product_fees"`
	AIFees             int                `json:"ai_fees"`
	ProductDetails     []ProductFeeDetail `json:"product_details"`
	Subtotal           int                `json:"subtotal"`
	Tax                int                `json:"tax"`
	Total              int                `json:"total"`
	RepresentativeFree bool               `json:"representative_free"`
	FreeStaffCount     int                `json:"free_staff_count"`
}

// PricingEngine computes itemized monthly fees from a subscription context.
// All methods are pure: no I/O, no logging, safe for concurrent use.
type PricingEngine struct {
	catalog Catalog
}

// NewPricingEngine returns an engine backed by the given catalog.
func NewPricingEngine(catalog Catalog) *PricingEngine {
	return &PricingEngine{catalog: catalog}
}

// ResolveProducts maps active product IDs to catalog records, preserving
// order. IDs absent from the catalog are skipped and returned separately so
// the caller can surface the dangling reference; a missing catalog entry
// contributes zero to the fee rather than failing a billing display.
func (e *PricingEngine) ResolveProducts(ids []string) (products []Product, missing []string) {
	for _, id := range ids {
		if p, ok := e.catalog.GetProduct(id); ok {
			products = append(products, p)
		} else {
			missing = append(missing, id)
		}
	}
	return products, missing
}

// CalculateMonthlyFee computes the full itemized breakdown for one month.
//
// Fee rules:
//   - Device fee is the plan's per-device price times the active device
//     count. Free and demo tiers price devices at 0, so the count is a
//     defined no-op there. An unrecognized tier contributes 0 and is
//     reported via the zero-value plan fields rather than an error.
//   - Product fees sum the standard price of every active product.
//   - The AI surcharge applies per product only when the subscription is on
//     the AI tier, the product defines an AI price, and the product ID is in
//     the AI-enabled list. A product listed as AI-enabled without an AI
//     price contributes 0 (never crashes, never double-charges).
//   - Tax is the subtotal times 10%, rounded half-up to the nearest yen.
//
// Staff counts never produce a fee line; the representative allowance only
// affects the RepresentativeFree/FreeStaffCount reporting fields.
func (e *PricingEngine) CalculateMonthlyFee(in FeeInput) (*PricingBreakdown, error) {
	if err := validateCounts(in); err != nil {
		return nil, err
	}

	plan, planKnown := e.catalog.GetPlan(in.Plan)

	breakdown := &PricingBreakdown{
		Plan:      in.Plan,
		DeviceFee: plan.DevicePrice * in.DeviceCount,
	}

	aiEligible := in.Plan == types.PlanAI
	aiEnabled := make(map[string]bool, len(in.AIEnabledProductIDs))
	for _, id := range in.AIEnabledProductIDs {
		aiEnabled[id] = true
	}

	breakdown.ProductDetails = make([]ProductFeeDetail, 0, len(in.ActiveProducts))
	for _, p := range in.ActiveProducts {
		detail := ProductFeeDetail{
			ProductID:   p.ID,
			ProductName: p.DisplayName,
			Subtotal:    p.Pricing.Standard,
		}
		breakdown.ProductFees += p.Pricing.Standard

		if aiEligible && aiEnabled[p.ID] && p.HasAIPricing() {
			detail.AIEnabled = true
			detail.Subtotal += *p.Pricing.AI
			breakdown.AIFees += *p.Pricing.AI
		}
		breakdown.ProductDetails = append(breakdown.ProductDetails, detail)
	}

	breakdown.Subtotal = breakdown.DeviceFee + breakdown.ProductFees + breakdown.AIFees
	breakdown.Tax = roundHalfUpTax(breakdown.Subtotal)
	breakdown.Total = breakdown.Subtotal + breakdown.Tax

	breakdown.RepresentativeFree = planKnown
	breakdown.FreeStaffCount = freeStaffCount(in, planKnown)

	return breakdown, nil
}

// roundHalfUpTax returns subtotal x 10% rounded half-up to the nearest yen.
// Yen has no sub-unit, so the computation stays in integer arithmetic:
// subtotal x 0.10 has exactly one decimal digit, and adding 5 before the
// integer division by 10 rounds the half case up.
func roundHalfUpTax(subtotal int) int {
	return (subtotal*taxRatePercent + 50) / 100
}

// freeStaffCount reports how many staff members the allowance covers.
//
//   - free: exactly one staff member is permitted and free.
//   - demo: never billed; every staff member is covered.
//   - standard/ai: the representative plus any granted free slots and
//     previously applied discounts, clamped to the actual staff count.
//   - unknown tier: no allowance is reported.
func freeStaffCount(in FeeInput, planKnown bool) int {
	if !planKnown {
		return 0
	}
	switch in.Plan {
	case types.PlanFree:
		return minInt(in.StaffCount, 1)
	case types.PlanDemo:
		return in.StaffCount
	default:
		return minInt(in.StaffCount, 1+in.FreeStaffAllowance+in.PreviousDiscount)
	}
}

// validateCounts rejects negative count inputs with a structured error.
func validateCounts(in FeeInput) error {
	fields := []struct {
		name  string
		value int
	}{
		{"device_count", in.DeviceCount},
		{"staff_count", in.StaffCount},
		{"free_staff_allowance", in.FreeStaffAllowance},
		{"previous_discount", in.PreviousDiscount},
	}
	for _, f := range fields {
		if f.value < 0 {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationNegativeCount,
				"count inputs must be non-negative",
				nil,
				map[string]any{"field": f.name, "value": f.value},
			)
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
