package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/medledger/invoiceflow/internal/models"
)

// CorrectionRule tags the reconciliation outcome so the decision is
// auditable per branch rather than buried in nested conditionals.
type CorrectionRule string

const (
	RuleNoOp        CorrectionRule = "no_op"
	RuleDiscount    CorrectionRule = "discount_correction"
	RuleImplicit    CorrectionRule = "implicit_discount_correction"
	RuleTaxFreight  CorrectionRule = "tax_freight_correction"
	RuleUnexplained CorrectionRule = "unexplained_gap"
)

// CorrectionResult describes what the reconciler decided and why.
type CorrectionResult struct {
	Rule        CorrectionRule
	CurrentSum  decimal.Decimal
	StatedTotal decimal.Decimal
	Gap         decimal.Decimal
	Threshold   decimal.Decimal
	Adjustment  decimal.Decimal
}

// implicitDiscountBound caps the heuristic correction: a positive gap
// without a stated discount is only absorbed when it is under 5% of the
// stated total.
var implicitDiscountBound = decimal.NewFromFloat(0.05)

// ReconcilerStage makes the sum of net line amounts equal the stated
// grand total, but only when a principled explanation for the gap
// exists. An unexplainable gap is left uncorrected with a diagnostic;
// silently falsifying financial data is worse than reporting it.
type ReconcilerStage struct{}

// NewReconciler creates the reconciliation stage.
func NewReconciler() *ReconcilerStage { return &ReconcilerStage{} }

func (r *ReconcilerStage) Name() string { return StageReconcile }

func (r *ReconcilerStage) Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
	items, result := Reconcile(view.LineItems, view.GlobalModifiers)

	delta := &models.StateDelta{LineItems: items, ReplaceItems: true}
	switch result.Rule {
	case RuleNoOp:
		// Nothing to report.
	case RuleUnexplained:
		delta.Diagnostics = append(delta.Diagnostics, fmt.Sprintf(
			"reconciler: unexplained gap of %s against stated total %s left uncorrected",
			result.Gap.StringFixed(2), result.StatedTotal.StringFixed(2)))
	default:
		delta.Diagnostics = append(delta.Diagnostics, fmt.Sprintf(
			"reconciler: applied %s of %s (gap %s, threshold %s)",
			result.Rule, result.Adjustment.StringFixed(2),
			result.Gap.StringFixed(2), result.Threshold.StringFixed(2)))
	}
	return delta, nil
}

// Reconcile computes the gap between the summed line amounts and the
// stated grand total, decides whether a known modifier explains it, and
// if so redistributes the gap proportionally across the items.
//
// All monetary arithmetic runs on decimals and is rounded to 2 places
// only at the point of storage, so the proportional split does not
// compound rounding error.
func Reconcile(items []models.LineItem, modifiers map[string]float64) ([]models.LineItem, CorrectionResult) {
	result := CorrectionResult{Rule: RuleNoOp}

	statedTotal := decimal.NewFromFloat(modifiers[models.ModStatedGrandTotal])
	result.StatedTotal = statedTotal
	if len(items) == 0 || statedTotal.LessThanOrEqual(decimal.Zero) {
		return items, result
	}

	currentSum := decimal.Zero
	for _, item := range items {
		currentSum = currentSum.Add(decimal.NewFromFloat(item.NetLineAmount))
	}
	result.CurrentSum = currentSum
	if currentSum.IsZero() {
		return items, result
	}

	gap := currentSum.Sub(statedTotal)
	result.Gap = gap

	threshold := decimal.NewFromFloat(0.5)
	if relative := statedTotal.Mul(decimal.NewFromFloat(0.001)); relative.GreaterThan(threshold) {
		threshold = relative
	}
	result.Threshold = threshold
	if gap.Abs().LessThan(threshold) {
		return items, result
	}

	switch {
	case gap.IsPositive():
		// Extracted sum is too high: only a discount explains deflating it.
		switch {
		case modifiers[models.ModGlobalDiscount] > 0:
			result.Rule = RuleDiscount
			result.Adjustment = gap.Neg()
		case gap.Div(statedTotal).LessThan(implicitDiscountBound):
			result.Rule = RuleImplicit
			result.Adjustment = gap.Neg()
		default:
			result.Rule = RuleUnexplained
			return items, result
		}
	default:
		// Extracted sum is too low: taxes and freight can raise it.
		taxAndFreight := modifiers[models.ModSGST] + modifiers[models.ModCGST] +
			modifiers[models.ModIGST] + modifiers[models.ModFreight]
		if taxAndFreight > 0 {
			result.Rule = RuleTaxFreight
			result.Adjustment = gap.Neg()
		} else {
			result.Rule = RuleUnexplained
			return items, result
		}
	}

	adjusted := make([]models.LineItem, len(items))
	copy(adjusted, items)
	for i := range adjusted {
		original := decimal.NewFromFloat(adjusted[i].NetLineAmount)
		share := result.Adjustment.Mul(original).Div(currentSum)
		newAmount := original.Add(share).Round(2)

		adjusted[i].NetLineAmount = newAmount.InexactFloat64()
		if adjusted[i].Quantity > 0 {
			adjusted[i].UnitLandingCost = newAmount.
				Div(decimal.NewFromFloat(adjusted[i].Quantity)).Round(2).InexactFloat64()
		}
		adjusted[i].Annotate(fmt.Sprintf("reconciled[%s]: %s", result.Rule, share.Round(2).StringFixed(2)))
	}
	return adjusted, result
}
