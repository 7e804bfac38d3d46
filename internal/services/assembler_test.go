package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/invoiceflow/internal/models"
)

func TestAssemblerComputesDerivedFields(t *testing.T) {
	state := models.NewDocumentState("gs://bucket/invoice.jpg", 0)
	state.HeaderFields = map[string]string{"Supplier_Name": "Acme Pharma"}
	state.GlobalModifiers = map[string]float64{models.ModStatedGrandTotal: 145}
	state.Diagnostics = []string{"earlier warning"}
	state.LineItems = []models.LineItem{
		{ProductName: "A", Quantity: 10, MRP: 15, NetLineAmount: 100},
		{ProductName: "B", Quantity: 3, NetLineAmount: 45},
	}

	delta, err := NewAssembler().Run(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, delta.Terminal)

	record := delta.Terminal
	assert.Equal(t, "gs://bucket/invoice.jpg", record.SourceReference)
	assert.Equal(t, 145.0, record.ComputedTotal)
	assert.Equal(t, "Acme Pharma", record.HeaderFields["Supplier_Name"])
	assert.Equal(t, []string{"earlier warning"}, record.Diagnostics)

	// unit landing cost = net / qty, margin = (MRP - unit) / MRP * 100
	assert.Equal(t, 10.0, record.LineItems[0].UnitLandingCost)
	assert.Equal(t, 33.33, record.LineItems[0].MarginPercent)
	assert.Equal(t, 15.0, record.LineItems[1].UnitLandingCost)
	assert.Zero(t, record.LineItems[1].MarginPercent, "no MRP, no margin")
}

func TestAssemblerZeroQuantity(t *testing.T) {
	state := models.NewDocumentState("ref", 0)
	state.LineItems = []models.LineItem{{ProductName: "A", Quantity: 0, NetLineAmount: 50}}

	delta, err := NewAssembler().Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 0.0, delta.Terminal.LineItems[0].UnitLandingCost)
	assert.Equal(t, 50.0, delta.Terminal.ComputedTotal)
}

func TestAssemblerClampsNegativeNetAmounts(t *testing.T) {
	state := models.NewDocumentState("ref", 0)
	state.LineItems = []models.LineItem{
		{ProductName: "A", Quantity: 2, NetLineAmount: -10},
		{ProductName: "B", Quantity: 2, NetLineAmount: 40},
	}

	delta, err := NewAssembler().Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 0.0, delta.Terminal.LineItems[0].NetLineAmount)
	assert.Contains(t, delta.Terminal.LineItems[0].Logic, "clamped")
	assert.Equal(t, 40.0, delta.Terminal.ComputedTotal)
}

func TestAssemblerDoesNotMutateInput(t *testing.T) {
	state := models.NewDocumentState("ref", 0)
	state.LineItems = []models.LineItem{{ProductName: "A", Quantity: 4, NetLineAmount: 100}}

	_, err := NewAssembler().Run(context.Background(), state.Clone())
	require.NoError(t, err)
	assert.Zero(t, state.LineItems[0].UnitLandingCost)
}
