/*
Package tax re-derives an order's sales-tax adjustments.

PURPOSE:
  After an order is split, edited, or moved to a new address, its tax records
  are recomputed per ACTIVE ship group, each group being taxed at its own
  ship-to address. Amounts that were already invoiced are never rewritten, only
  offset.

EXISTING TAX RECORDS:
  unbilled:                 deleted
  billed B, default:        shrunk to B, frozen to the shipped quantity, then
                            offset by -B over the unshipped remainder
  billed B, keepBilledTaxes: shrunk to B, frozen, and B is kept in the new
                            total instead of being offset

ROUNDING:
  Every per-authority component and every running total is rounded at the
  calculation scale. The line total and each group's order-level total get
  the final rounding exactly once. Whatever the final rounding leaves over is
  booked as one order-level "tax difference" adjustment marked NeverProrate,
  so the sum of tax records always equals the final-rounded target.

SEE ALSO:
  - core/money.go: RoundingPolicy and Accumulator
  - flatrate.go: in-process tax-rate service
  - taxclient: remote tax-rate service
*/
package tax

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

const differenceComment = "tax difference"

type Reconciler struct {
	Taxes    core.TaxService
	Rounding core.RoundingPolicy
	Clock    func() time.Time
	Logger   *zap.Logger
}

func NewReconciler(taxes core.TaxService, rounding core.RoundingPolicy, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{Taxes: taxes, Rounding: rounding, Clock: time.Now, Logger: logger}
}

// RecalcResult reports the money movement of one reconciliation.
type RecalcResult struct {
	OrderID       core.OrderID
	OldTaxTotal   decimal.Decimal
	RemovedAmount decimal.Decimal
	CreatedAmount decimal.Decimal
	NewTaxTotal   decimal.Decimal
	Difference    decimal.Decimal
	Created       []core.Adjustment
	GrandTotal    decimal.Decimal
}

// =============================================================================
// ORDER SNAPSHOT
// =============================================================================

type snapshot struct {
	order       core.Order
	lines       map[core.OrderItemSeqID]core.OrderLine
	groups      []core.ShipGroup
	allocations []core.Allocation
	adjustments []core.Adjustment
}

func (r *Reconciler) load(ctx context.Context, tx core.Store, orderID core.OrderID) (snapshot, error) {
	var s snapshot
	var err error
	if s.order, err = tx.GetOrder(ctx, orderID); err != nil {
		return s, err
	}
	if s.order.Status.IsTerminal() {
		return s, core.Invalid("order", "order %s is %s and cannot be re-taxed", orderID, s.order.Status)
	}
	lines, err := tx.ListOrderLines(ctx, orderID)
	if err != nil {
		return s, err
	}
	s.lines = make(map[core.OrderItemSeqID]core.OrderLine, len(lines))
	for _, l := range lines {
		s.lines[l.SeqID] = l
	}
	if s.groups, err = tx.ListShipGroups(ctx, orderID); err != nil {
		return s, err
	}
	if s.allocations, err = tx.ListAllocations(ctx, orderID); err != nil {
		return s, err
	}
	if s.adjustments, err = tx.ListAdjustments(ctx, orderID); err != nil {
		return s, err
	}
	return s, nil
}

func (s snapshot) activeGroups() []core.ShipGroup {
	var out []core.ShipGroup
	for _, g := range s.groups {
		if g.IsActive() {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	return out
}

// shipped returns the shipped quantity of line in group, or across every
// group when group is empty.
func (s snapshot) shipped(line core.OrderItemSeqID, group core.ShipGroupSeqID) (qty, done decimal.Decimal) {
	for _, a := range s.allocations {
		if a.OrderItemSeqID != line || (group != "" && a.ShipGroupSeqID != group) {
			continue
		}
		qty = qty.Add(a.Quantity)
		done = done.Add(a.ShippedQuantity)
	}
	return qty, done
}

// =============================================================================
// RECALC
// =============================================================================

// Recalc replaces the tax of orderID. keepBilledTaxes excludes shipped
// quantity from the recompute and keeps its billed tax as-is; callers set it
// when the ship-to address changed.
func (r *Reconciler) Recalc(ctx context.Context, tx core.Store, orderID core.OrderID, keepBilledTaxes bool) (RecalcResult, error) {
	if err := r.Rounding.Validate(); err != nil {
		return RecalcResult{}, err
	}
	s, err := r.load(ctx, tx, orderID)
	if err != nil {
		return RecalcResult{}, err
	}

	res := RecalcResult{OrderID: orderID}
	for _, a := range s.adjustments {
		if a.IsTax() {
			res.OldTaxTotal = res.OldTaxTotal.Add(a.Amount)
		}
	}

	removed, kept, err := r.reconcileExisting(ctx, tx, s, keepBilledTaxes)
	if err != nil {
		return RecalcResult{}, err
	}
	res.RemovedAmount = removed
	res.NewTaxTotal = kept

	// Ungrouped order-level amounts go with the first group that has
	// something to tax.
	first := true
	for _, g := range s.activeGroups() {
		members := s.members(g)
		if len(members) == 0 {
			continue
		}
		out, err := r.taxGroup(ctx, tx, s, g, members, first, keepBilledTaxes)
		if err != nil {
			return RecalcResult{}, err
		}
		first = false
		res.CreatedAmount = res.CreatedAmount.Add(out.created)
		res.NewTaxTotal = res.NewTaxTotal.Add(out.target)
		res.Created = append(res.Created, out.adjustments...)
	}

	res.Difference = res.NewTaxTotal.Sub(res.CreatedAmount).Sub(res.OldTaxTotal.Sub(res.RemovedAmount))
	if !res.Difference.IsZero() {
		plug := r.newAdjustment(orderID, core.NoOrderItem, "", res.Difference)
		plug.NeverProrate = true
		plug.Comments = differenceComment
		if err := tx.SaveAdjustment(ctx, plug.Adjustment); err != nil {
			return RecalcResult{}, err
		}
		res.Created = append(res.Created, plug.Adjustment)
	}

	if res.GrandTotal, err = r.resetGrandTotal(ctx, tx, s); err != nil {
		return RecalcResult{}, err
	}

	r.Logger.Info("tax recalculated",
		zap.String("order_id", string(orderID)),
		zap.Bool("keep_billed", keepBilledTaxes),
		zap.String("old_total", res.OldTaxTotal.String()),
		zap.String("new_total", res.NewTaxTotal.String()),
		zap.String("removed", res.RemovedAmount.String()),
		zap.String("created", res.CreatedAmount.String()),
		zap.String("difference", res.Difference.String()))
	return res, nil
}

// =============================================================================
// EXISTING TAX RECORDS
// =============================================================================

// reconcileExisting applies the billed/unbilled rule to every tax record of
// the order. It returns the amount taken out of the tax total and the billed
// amount kept in it.
func (r *Reconciler) reconcileExisting(ctx context.Context, tx core.Store, s snapshot, keepBilled bool) (removed, kept decimal.Decimal, err error) {
	for _, a := range s.adjustments {
		if !a.IsTax() {
			continue
		}
		billed, n, err := r.billedAmount(ctx, tx, a.ID)
		if err != nil {
			return removed, kept, err
		}
		if n == 0 {
			if err := tx.DeleteAdjustment(ctx, a.ID); err != nil {
				return removed, kept, err
			}
			removed = removed.Add(a.Amount)
			continue
		}

		var qty, done decimal.Decimal
		lineLevel := !a.IsOrderLevel()
		if lineLevel {
			qty, done = s.shipped(a.OrderItemSeqID, a.ShipGroupSeqID)
		}

		removed = removed.Add(a.Amount.Sub(billed))
		a.Amount = billed
		if lineLevel {
			frozen := done
			a.AppliesToQuantity = &frozen
		}
		if err := tx.SaveAdjustment(ctx, a); err != nil {
			return removed, kept, err
		}

		if keepBilled {
			kept = kept.Add(billed)
			continue
		}
		offset := r.newAdjustment(a.OrderID, a.OrderItemSeqID, a.ShipGroupSeqID, billed.Neg())
		offset.copyAuthority(a)
		if lineLevel {
			rest := qty.Sub(done)
			offset.AppliesToQuantity = &rest
		}
		if err := tx.SaveAdjustment(ctx, offset.Adjustment); err != nil {
			return removed, kept, err
		}
		removed = removed.Add(billed)
	}
	return removed, kept, nil
}

func (r *Reconciler) billedAmount(ctx context.Context, tx core.Store, id core.AdjustmentID) (decimal.Decimal, int, error) {
	bs, err := tx.ListAdjustmentBillings(ctx, id)
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, b := range bs {
		total = total.Add(b.Amount)
	}
	return total, len(bs), nil
}

// =============================================================================
// PER-GROUP TAX
// =============================================================================

type groupOutcome struct {
	created     decimal.Decimal
	target      decimal.Decimal
	adjustments []core.Adjustment
}

type groupLine struct {
	line    core.OrderLine
	qty     decimal.Decimal
	shipped decimal.Decimal
}

// members returns the valid lines allocated to g, in line order.
func (s snapshot) members(g core.ShipGroup) []groupLine {
	var members []groupLine
	for _, a := range s.allocations {
		if a.ShipGroupSeqID != g.SeqID || !a.Quantity.IsPositive() {
			continue
		}
		l, ok := s.lines[a.OrderItemSeqID]
		if !ok || !l.Status.IsValid() {
			continue
		}
		members = append(members, groupLine{line: l, qty: a.Quantity, shipped: a.ShippedQuantity})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].line.SeqID < members[j].line.SeqID })
	return members
}

func (r *Reconciler) taxGroup(ctx context.Context, tx core.Store, s snapshot, g core.ShipGroup, members []groupLine, first, keepBilled bool) (groupOutcome, error) {
	var out groupOutcome

	addr, err := r.shipTo(ctx, tx, s.order, g)
	if err != nil {
		return out, err
	}

	req := core.TaxRequest{
		ProductStoreID: s.order.ProductStoreID,
		BillToPartyID:  s.order.BillToPartyID,
		ShipToAddress:  addr,
		Lines:          make([]core.TaxLine, 0, len(members)),
	}
	for _, m := range members {
		subtotal, shipping := s.lineAmounts(m.line, g.SeqID, m.qty)
		if keepBilled {
			share := m.qty.Sub(m.shipped).Div(m.qty)
			subtotal = subtotal.Mul(share)
			shipping = shipping.Mul(share)
		}
		req.Lines = append(req.Lines, core.TaxLine{
			ProductID:          m.line.ProductID,
			TaxableBase:        subtotal,
			ShippingAllocation: shipping,
			UnitPrice:          m.line.UnitPrice,
			Quantity:           m.qty,
		})
	}
	req.GlobalPromotionAmount, req.GlobalShippingAmount = s.globalAmounts(g.SeqID, first)

	result, err := r.Taxes.ComputeTax(ctx, req)
	if err != nil {
		if !errors.Is(err, core.ErrCollaborator) {
			err = &core.CollaboratorError{Service: "tax", Op: "computeTax", Err: err}
		}
		return out, err
	}
	if len(result.LineAdjustments) != len(members) {
		return out, &core.CollaboratorError{Service: "tax", Op: "computeTax",
			Err: fmt.Errorf("%d line results for %d lines", len(result.LineAdjustments), len(members))}
	}

	for i, m := range members {
		acc := core.NewAccumulator(r.Rounding)
		for _, c := range result.LineAdjustments[i] {
			amount := core.NewMoney(c.Amount).RoundForCalculation(r.Rounding)
			acc.Add(amount)
			if amount.IsZero() {
				continue
			}
			adj := r.newAdjustment(s.order.ID, m.line.SeqID, g.SeqID, amount.Value)
			adj.fromComponent(c)
			rest := m.qty.Sub(m.shipped)
			adj.AppliesToQuantity = &rest
			if err := tx.SaveAdjustment(ctx, adj.Adjustment); err != nil {
				return out, err
			}
			out.created = out.created.Add(amount.Value)
			out.adjustments = append(out.adjustments, adj.Adjustment)
		}
		out.target = out.target.Add(acc.Final().Value)
	}

	global := core.NewAccumulator(r.Rounding)
	for _, c := range result.OrderAdjustments {
		amount := core.NewMoney(c.Amount).RoundForCalculation(r.Rounding)
		global.Add(amount)
		if amount.IsZero() {
			continue
		}
		adj := r.newAdjustment(s.order.ID, core.NoOrderItem, g.SeqID, amount.Value)
		adj.fromComponent(c)
		if err := tx.SaveAdjustment(ctx, adj.Adjustment); err != nil {
			return out, err
		}
		out.created = out.created.Add(amount.Value)
		out.adjustments = append(out.adjustments, adj.Adjustment)
	}
	out.target = out.target.Add(global.Final().Value)
	return out, nil
}

// shipTo resolves the group's postal address, falling back to the order's
// origin facility address.
func (r *Reconciler) shipTo(ctx context.Context, tx core.Store, o core.Order, g core.ShipGroup) (core.PostalAddress, error) {
	if g.ContactMechID != "" {
		addr, err := tx.GetPostalAddress(ctx, g.ContactMechID)
		if err == nil {
			return addr, nil
		}
		if !core.IsNotFound(err) {
			return core.PostalAddress{}, err
		}
	}
	if o.OriginFacilityID != "" {
		f, err := tx.GetFacility(ctx, o.OriginFacilityID)
		if err != nil && !core.IsNotFound(err) {
			return core.PostalAddress{}, err
		}
		if err == nil && f.AddressID != "" {
			addr, err := tx.GetPostalAddress(ctx, f.AddressID)
			if err == nil {
				return addr, nil
			}
			if !core.IsNotFound(err) {
				return core.PostalAddress{}, err
			}
		}
	}
	return core.PostalAddress{}, core.Invalid("shipGroup", "ship group %s of order %s has no ship-to or origin facility address", g.SeqID, o.ID)
}

// lineAmounts returns the subtotal and shipping of line inside group: price
// times group quantity plus the line's non-tax adjustments, where adjustments
// without a ship group are prorated by the group's share of the line.
func (s snapshot) lineAmounts(l core.OrderLine, group core.ShipGroupSeqID, qty decimal.Decimal) (subtotal, shipping decimal.Decimal) {
	subtotal = l.UnitPrice.Mul(qty)
	remaining := l.Remaining()
	for _, a := range s.adjustments {
		if a.IsTax() || a.OrderItemSeqID != l.SeqID {
			continue
		}
		amount := a.Amount
		switch {
		case a.ShipGroupSeqID == group:
		case a.ShipGroupSeqID == "" && remaining.IsPositive():
			amount = amount.Mul(qty).Div(remaining)
		default:
			continue
		}
		if a.Type == core.AdjShipping {
			shipping = shipping.Add(amount)
		} else {
			subtotal = subtotal.Add(amount)
		}
	}
	return subtotal, shipping
}

// globalAmounts sums the order-level non-tax adjustments of group. Those
// without a group belong to the first active group with taxable lines.
func (s snapshot) globalAmounts(group core.ShipGroupSeqID, first bool) (promotion, shipping decimal.Decimal) {
	for _, a := range s.adjustments {
		if a.IsTax() || !a.IsOrderLevel() {
			continue
		}
		if a.ShipGroupSeqID != group && !(a.ShipGroupSeqID == "" && first) {
			continue
		}
		if a.Type == core.AdjShipping {
			shipping = shipping.Add(a.Amount)
		} else {
			promotion = promotion.Add(a.Amount)
		}
	}
	return promotion, shipping
}

// =============================================================================
// GRAND TOTAL
// =============================================================================

func (r *Reconciler) resetGrandTotal(ctx context.Context, tx core.Store, s snapshot) (decimal.Decimal, error) {
	adjs, err := tx.ListAdjustments(ctx, s.order.ID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, l := range s.lines {
		if l.Status.IsValid() {
			total = total.Add(l.UnitPrice.Mul(l.Remaining()))
		}
	}
	for _, a := range adjs {
		total = total.Add(a.Amount)
	}
	total = core.NewMoney(total).RoundFinal(r.Rounding).Value

	o := s.order
	o.GrandTotal = total
	if err := tx.SaveOrder(ctx, o); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// =============================================================================
// ADJUSTMENT CONSTRUCTION
// =============================================================================

type taxAdjustment struct {
	core.Adjustment
}

func (r *Reconciler) newAdjustment(orderID core.OrderID, line core.OrderItemSeqID, group core.ShipGroupSeqID, amount decimal.Decimal) taxAdjustment {
	return taxAdjustment{core.Adjustment{
		ID:             core.AdjustmentID(uuid.NewString()),
		Type:           core.AdjTax,
		OrderID:        orderID,
		OrderItemSeqID: line,
		ShipGroupSeqID: group,
		Amount:         amount,
		CreatedAt:      r.Clock().UTC(),
	}}
}

func (t *taxAdjustment) fromComponent(c core.TaxComponent) {
	t.TaxAuthorityGeoID = c.TaxAuthorityGeoID
	t.TaxAuthPartyID = c.TaxAuthPartyID
	t.PrimaryGeoID = c.PrimaryGeoID
	t.TaxAuthorityRateSeqID = c.TaxAuthorityRateSeqID
	t.SourcePercentage = c.SourcePercentage
	t.Comments = c.Comments
}

func (t *taxAdjustment) copyAuthority(a core.Adjustment) {
	t.TaxAuthorityGeoID = a.TaxAuthorityGeoID
	t.TaxAuthPartyID = a.TaxAuthPartyID
	t.PrimaryGeoID = a.PrimaryGeoID
	t.TaxAuthorityRateSeqID = a.TaxAuthorityRateSeqID
	t.SourcePercentage = a.SourcePercentage
	t.Comments = a.Comments
}
