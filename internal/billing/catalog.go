// Package billing provides the pricing engine, plan/product catalogs, and
// billing domain logic for the CareBase platform.
package billing

import "carebase/internal/types"

// PlanDefinition describes one subscription tier.
// DevicePrice is the monthly fee per active device in yen (0 for free/demo).
// Rank orders tiers for upgrade/downgrade comparison; demo is a non-ranked
// preview tier and uses rankUnranked.
type PlanDefinition struct {
	Tier        types.PlanTier `json:"tier"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description"`
	DevicePrice int            `json:"device_price"`
	Rank        int            `json:"-"`
	Features    []string       `json:"features"`

	// MaxStaff limits the number of staff accounts; 0 means unlimited.
	MaxStaff int `json:"max_staff"`
}

// rankUnranked marks tiers excluded from upgrade/downgrade comparison.
const rankUnranked = -1

// ProductPricing holds the monthly prices for an add-on product in yen.
// AI is nil for products without an AI-enhanced mode.
type ProductPricing struct {
	Standard int  `json:"standard"`
	AI       *int `json:"ai,omitempty"`
}

// Product describes an optional paid add-on capability.
type Product struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description"`
	Type        types.ProductType `json:"type"`
	Pricing     ProductPricing    `json:"pricing"`

	// AIFeatures describes the AI-enhanced mode; empty when Pricing.AI is nil.
	AIFeatures string `json:"ai_features,omitempty"`
}

// HasAIPricing reports whether the product defines an AI surcharge price.
func (p Product) HasAIPricing() bool {
	return p.Pricing.AI != nil
}

// Catalog is the authoritative lookup for plan and product definitions.
// This is the single source of truth for what each tier and add-on costs.
type Catalog interface {
	// GetPlan returns the definition for the given tier. For unknown tiers
	// it returns a zero-value definition and false; callers must treat the
	// miss as a zero-contribution and flag it as a data-integrity signal.
	GetPlan(tier types.PlanTier) (PlanDefinition, bool)

	// GetProduct returns the definition for the given product ID.
	GetProduct(id string) (Product, bool)

	// Plans returns all plan definitions in rank order (demo last).
	Plans() []PlanDefinition

	// Products returns all product definitions in catalog order.
	Products() []Product
}

func aiPrice(v int) *int { return &v }

// planDefaults defines the hardcoded plan catalog. Prices are monthly,
// per active device, in yen.
var planDefaults = map[types.PlanTier]PlanDefinition{
	types.PlanFree: {
		Tier:        types.PlanFree,
		DisplayName: "フリー",
		Description: "Single-staff trial for small facilities. No device fees.",
		DevicePrice: 0,
		Rank:        0,
		MaxStaff:    1,
		Features: []string{
			"Client records (up to 10 clients)",
			"Single staff account",
			"Basic notifications",
		},
	},
	types.PlanStandard: {
		Tier:        types.PlanStandard,
		DisplayName: "スタンダード",
		Description: "Full facility management with per-device pricing.",
		DevicePrice: 500,
		Rank:        1,
		MaxStaff:    0,
		Features: []string{
			"Unlimited clients and staff",
			"Device management",
			"Add-on products",
			"Audit log viewer",
			"Representative account free",
		},
	},
	types.PlanAI: {
		Tier:        types.PlanAI,
		DisplayName: "AIプラン",
		Description: "Standard features plus AI-enhanced add-on modes.",
		DevicePrice: 1000,
		Rank:        2,
		MaxStaff:    0,
		Features: []string{
			"Everything in Standard",
			"AI-enhanced add-on modes",
			"Priority support",
			"Representative account free",
		},
	},
	types.PlanDemo: {
		Tier:        types.PlanDemo,
		DisplayName: "デモ",
		Description: "Non-commercial preview environment. Never billed.",
		DevicePrice: 0,
		Rank:        rankUnranked,
		MaxStaff:    0,
		Features: []string{
			"All features enabled",
			"Sample data preloaded",
			"Not available via upgrade",
		},
	},
}

// productOrder fixes the catalog listing order.
var productOrder = []string{
	"care_records",
	"vital_monitoring",
	"family_portal",
	"shift_scheduler",
}

// productDefaults defines the hardcoded add-on product catalog.
var productDefaults = map[string]Product{
	"care_records": {
		ID:          "care_records",
		DisplayName: "ケア記録",
		Description: "Daily care record entry and review.",
		Type:        types.ProductAI,
		Pricing:     ProductPricing{Standard: 2000, AI: aiPrice(1000)},
		AIFeatures:  "Voice-to-text entry and automatic daily summaries.",
	},
	"vital_monitoring": {
		ID:          "vital_monitoring",
		DisplayName: "バイタル管理",
		Description: "Vital sign tracking from bedside sensors.",
		Type:        types.ProductAI,
		Pricing:     ProductPricing{Standard: 3000, AI: aiPrice(1000)},
		AIFeatures:  "Anomaly detection with early-warning alerts.",
	},
	"family_portal": {
		ID:          "family_portal",
		DisplayName: "ご家族ポータル",
		Description: "Read-only portal for client families.",
		Type:        types.ProductStandard,
		Pricing:     ProductPricing{Standard: 1000},
	},
	"shift_scheduler": {
		ID:          "shift_scheduler",
		DisplayName: "シフト管理",
		Description: "Staff shift planning and handover notes.",
		Type:        types.ProductAI,
		Pricing:     ProductPricing{Standard: 2500, AI: aiPrice(1500)},
		AIFeatures:  "Automatic shift drafts from staffing constraints.",
	},
}

// staticCatalog is a compile-time catalog backed by in-memory maps.
// It implements Catalog and is the standard implementation for production use.
type staticCatalog struct {
	plans    map[types.PlanTier]PlanDefinition
	products map[string]Product
}

// NewStaticCatalog returns a Catalog backed by the hardcoded plan and product
// definitions. The defaults are copied so callers cannot mutate the
// package-level tables; no database or external service is required.
func NewStaticCatalog() Catalog {
	plans := make(map[types.PlanTier]PlanDefinition, len(planDefaults))
	for k, v := range planDefaults {
		plans[k] = v
	}
	products := make(map[string]Product, len(productDefaults))
	for k, v := range productDefaults {
		products[k] = v
	}
	return &staticCatalog{plans: plans, products: products}
}

func (c *staticCatalog) GetPlan(tier types.PlanTier) (PlanDefinition, bool) {
	def, ok := c.plans[tier]
	return def, ok
}

func (c *staticCatalog) GetProduct(id string) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

func (c *staticCatalog) Plans() []PlanDefinition {
	out := []PlanDefinition{}
	for _, tier := range []types.PlanTier{types.PlanFree, types.PlanStandard, types.PlanAI, types.PlanDemo} {
		if def, ok := c.plans[tier]; ok {
			out = append(out, def)
		}
	}
	return out
}

func (c *staticCatalog) Products() []Product {
	out := []Product{}
	for _, id := range productOrder {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
