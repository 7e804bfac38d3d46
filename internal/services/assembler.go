package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/medledger/invoiceflow/internal/models"
)

// AssemblerStage computes presentation-ready derived fields and builds
// the terminal record. Pure function of its input state; no I/O.
type AssemblerStage struct{}

// NewAssembler creates the final assembler stage.
func NewAssembler() *AssemblerStage { return &AssemblerStage{} }

func (a *AssemblerStage) Name() string { return StageAssemble }

func (a *AssemblerStage) Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
	items := make([]models.LineItem, len(view.LineItems))
	copy(items, view.LineItems)

	total := decimal.Zero
	var diags []string
	for i := range items {
		net := decimal.NewFromFloat(items[i].NetLineAmount)
		if net.IsNegative() {
			// Net amounts must be non-negative once assembly completes.
			items[i].Annotate("net amount was negative after reconciliation, clamped to zero")
			net = decimal.Zero
			items[i].NetLineAmount = 0
		}
		total = total.Add(net)

		if items[i].Quantity > 0 {
			unit := net.Div(decimal.NewFromFloat(items[i].Quantity)).Round(2)
			items[i].UnitLandingCost = unit.InexactFloat64()
			if items[i].MRP > 0 {
				mrp := decimal.NewFromFloat(items[i].MRP)
				items[i].MarginPercent = mrp.Sub(unit).
					Div(mrp).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
			}
		} else {
			items[i].UnitLandingCost = 0
		}
	}

	record := &models.TerminalRecord{
		SourceReference: view.SourceReference,
		HeaderFields:    view.HeaderFields,
		Modifiers:       view.GlobalModifiers,
		LineItems:       items,
		Diagnostics:     append(append([]string(nil), view.Diagnostics...), diags...),
		ComputedTotal:   total.Round(2).InexactFloat64(),
	}

	return &models.StateDelta{
		LineItems:    items,
		ReplaceItems: true,
		Diagnostics:  diags,
		Terminal:     record,
	}, nil
}
