package billing

import (
	"testing"

	"carebase/internal/types"
)

func TestNewStaticCatalog_AllTiersPresent(t *testing.T) {
	catalog := NewStaticCatalog()

	tiers := []types.PlanTier{types.PlanFree, types.PlanStandard, types.PlanAI, types.PlanDemo}
	for _, tier := range tiers {
		def, ok := catalog.GetPlan(tier)
		if !ok {
			t.Errorf("GetPlan(%s): missing catalog entry", tier)
			continue
		}
		if def.Tier != tier {
			t.Errorf("GetPlan(%s): Tier = %s", tier, def.Tier)
		}
		if def.DisplayName == "" || def.Description == "" || len(def.Features) == 0 {
			t.Errorf("GetPlan(%s): incomplete definition %+v", tier, def)
		}
	}
}

func TestNewStaticCatalog_DevicePrices(t *testing.T) {
	catalog := NewStaticCatalog()

	wantPrices := map[types.PlanTier]int{
		types.PlanFree:     0,
		types.PlanStandard: 500,
		types.PlanAI:       1000,
		types.PlanDemo:     0,
	}
	for tier, want := range wantPrices {
		def, _ := catalog.GetPlan(tier)
		if def.DevicePrice != want {
			t.Errorf("%s DevicePrice = %d, want %d", tier, def.DevicePrice, want)
		}
	}
}

func TestNewStaticCatalog_UnknownTier(t *testing.T) {
	catalog := NewStaticCatalog()

	if _, ok := catalog.GetPlan(types.PlanTier("enterprise")); ok {
		t.Error("GetPlan returned ok for an undefined tier")
	}
}

func TestNewStaticCatalog_ProductAIPricingConsistency(t *testing.T) {
	// Every product typed as ai must carry an ai price and a feature
	// description; standard products must carry neither.
	catalog := NewStaticCatalog()

	for _, p := range catalog.Products() {
		switch p.Type {
		case types.ProductAI:
			if !p.HasAIPricing() {
				t.Errorf("%s: ai product without ai price", p.ID)
			}
			if p.AIFeatures == "" {
				t.Errorf("%s: ai product without feature description", p.ID)
			}
		case types.ProductStandard:
			if p.HasAIPricing() {
				t.Errorf("%s: standard product with ai price", p.ID)
			}
		default:
			t.Errorf("%s: unexpected product type %s", p.ID, p.Type)
		}
		if p.Pricing.Standard <= 0 {
			t.Errorf("%s: non-positive standard price %d", p.ID, p.Pricing.Standard)
		}
	}
}

func TestNewStaticCatalog_ProductOrderStable(t *testing.T) {
	catalog := NewStaticCatalog()

	products := catalog.Products()
	if len(products) != len(productOrder) {
		t.Fatalf("Products() returned %d entries, want %d", len(products), len(productOrder))
	}
	for i, id := range productOrder {
		if products[i].ID != id {
			t.Errorf("Products()[%d].ID = %s, want %s", i, products[i].ID, id)
		}
	}
}

func TestNewStaticCatalog_IndependentInstances(t *testing.T) {
	// The constructor copies the default maps, so two catalogs always agree
	// and neither aliases package state.
	c1 := NewStaticCatalog()
	c2 := NewStaticCatalog()

	p1, _ := c1.GetProduct("care_records")
	p2, _ := c2.GetProduct("care_records")
	if p1.Pricing.Standard != p2.Pricing.Standard {
		t.Errorf("independent catalogs disagree: %d vs %d", p1.Pricing.Standard, p2.Pricing.Standard)
	}
}

func TestPlanRanksMatchCatalog(t *testing.T) {
	// The comparison ranks and the catalog rank field must agree so a new
	// tier cannot be added in one place only.
	catalog := NewStaticCatalog()

	for tier, rank := range planRanks {
		def, ok := catalog.GetPlan(tier)
		if !ok {
			t.Errorf("ranked tier %s missing from catalog", tier)
			continue
		}
		if def.Rank != rank {
			t.Errorf("%s: catalog rank %d != comparison rank %d", tier, def.Rank, rank)
		}
	}

	demo, _ := catalog.GetPlan(types.PlanDemo)
	if demo.Rank != rankUnranked {
		t.Errorf("demo rank = %d, want %d (unranked)", demo.Rank, rankUnranked)
	}
}
