package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mind-engage/certprep/internal/access"
)

type PlanID string

const (
	PlanStandard  PlanID = "standard"
	PlanAllAccess PlanID = "all_access"
)

// Plan is a purchasable subscription. Prices are in naira.
type Plan struct {
	ID    PlanID          `json:"id"`
	Name  string          `json:"name"`
	Tier  access.Tier     `json:"tier"`
	Price decimal.Decimal `json:"price"`
	// PerCertification plans bind the subscription to one certification.
	PerCertification bool `json:"per_certification"`
}

var koboPerNaira = decimal.NewFromInt(100)

// Kobo converts the price to the gateway's minor unit, rounding half up.
func (p Plan) Kobo() int64 {
	return p.Price.Mul(koboPerNaira).Round(0).IntPart()
}

// Catalog holds the plans on sale.
type Catalog map[PlanID]Plan

// NewCatalog builds the catalog from decimal price strings such as "5000.00".
func NewCatalog(standardPrice, allAccessPrice string) (Catalog, error) {
	std, err := decimal.NewFromString(standardPrice)
	if err != nil {
		return nil, fmt.Errorf("standard price %q: %w", standardPrice, err)
	}
	all, err := decimal.NewFromString(allAccessPrice)
	if err != nil {
		return nil, fmt.Errorf("all-access price %q: %w", allAccessPrice, err)
	}
	if !std.IsPositive() || !all.IsPositive() {
		return nil, fmt.Errorf("plan prices must be positive")
	}
	return Catalog{
		PlanStandard:  {ID: PlanStandard, Name: "Standard", Tier: access.TierStandard, Price: std, PerCertification: true},
		PlanAllAccess: {ID: PlanAllAccess, Name: "All-Access", Tier: access.TierAllAccess, Price: all},
	}, nil
}

func (c Catalog) Get(id PlanID) (Plan, error) {
	p, ok := c[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}

// List returns the plans cheapest first.
func (c Catalog) List() []Plan {
	out := make([]Plan, 0, len(c))
	for _, id := range []PlanID{PlanStandard, PlanAllAccess} {
		if p, ok := c[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
