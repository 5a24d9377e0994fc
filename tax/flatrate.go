package tax

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/core"
)

// FlatRate is an in-process tax-rate service charging one rate per
// jurisdiction. The state geo wins over the country geo; Default applies when
// neither is listed. Amounts are returned unrounded.
type FlatRate struct {
	Default decimal.Decimal
	ByGeo   map[string]decimal.Decimal
	PartyID string
}

var _ core.TaxService = (*FlatRate)(nil)

func NewFlatRate(defaultRate decimal.Decimal) *FlatRate {
	return &FlatRate{Default: defaultRate, ByGeo: map[string]decimal.Decimal{}, PartyID: "TAX_AUTHORITY"}
}

func (f *FlatRate) rate(addr core.PostalAddress) (string, decimal.Decimal) {
	for _, geo := range []string{addr.StateGeoID, addr.CountryGeoID} {
		if geo == "" {
			continue
		}
		if r, ok := f.ByGeo[geo]; ok {
			return geo, r
		}
	}
	geo := addr.StateGeoID
	if geo == "" {
		geo = addr.CountryGeoID
	}
	return geo, f.Default
}

func (f *FlatRate) ComputeTax(_ context.Context, req core.TaxRequest) (core.TaxResult, error) {
	geo, rate := f.rate(req.ShipToAddress)
	res := core.TaxResult{LineAdjustments: make([][]core.TaxComponent, len(req.Lines))}
	if rate.IsZero() {
		return res, nil
	}
	pct := rate.Mul(decimal.NewFromInt(100))

	component := func(base decimal.Decimal) core.TaxComponent {
		return core.TaxComponent{
			TaxAuthorityGeoID:     geo,
			TaxAuthPartyID:        f.PartyID,
			PrimaryGeoID:          geo,
			TaxAuthorityRateSeqID: "FLAT",
			SourcePercentage:      &pct,
			Amount:                base.Mul(rate),
		}
	}

	for i, l := range req.Lines {
		base := l.TaxableBase.Add(l.ShippingAllocation)
		if base.IsZero() {
			continue
		}
		res.LineAdjustments[i] = []core.TaxComponent{component(base)}
	}
	if global := req.GlobalPromotionAmount.Add(req.GlobalShippingAmount); !global.IsZero() {
		res.OrderAdjustments = []core.TaxComponent{component(global)}
	}
	return res, nil
}
