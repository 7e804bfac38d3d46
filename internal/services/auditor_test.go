package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/invoiceflow/internal/models"
)

func TestAuditDropsDuplicateRows(t *testing.T) {
	row := models.LineItem{ProductName: "Paracetamol", Batch: "B1", Quantity: 10, Amount: 50}
	items, diags := Audit([]models.LineItem{row, row})

	require.Len(t, items, 1)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0], "Paracetamol")
}

func TestAuditKeyIsFuzzyOnTextNotOnValues(t *testing.T) {
	items, diags := Audit([]models.LineItem{
		{ProductName: "Paracetamol  500mg", Batch: "b1", Quantity: 10, Amount: 50},
		{ProductName: " paracetamol 500MG ", Batch: "B1", Quantity: 10, Amount: 50},
		// Same product, different batch: a real second row, kept.
		{ProductName: "Paracetamol 500mg", Batch: "B2", Quantity: 10, Amount: 50},
		// Same product and batch but different quantity: kept.
		{ProductName: "Paracetamol 500mg", Batch: "B1", Quantity: 5, Amount: 25},
	})

	assert.Len(t, items, 3)
	assert.Len(t, diags, 1)
}

func TestAuditMissingBatchUsesSentinel(t *testing.T) {
	items, diags := Audit([]models.LineItem{
		{ProductName: "Cetirizine", Quantity: 1, Amount: 30},
		{ProductName: "Cetirizine", Batch: "  ", Quantity: 1, Amount: 30},
	})
	assert.Len(t, items, 1)
	assert.Len(t, diags, 1)
}

func TestAuditIsIdempotent(t *testing.T) {
	input := []models.LineItem{
		{ProductName: "Paracetamol", Batch: "B1", Quantity: 10, Amount: 50},
		{ProductName: "Paracetamol", Batch: "B1", Quantity: 10, Amount: 50},
		{ProductName: "Amoxicillin", Batch: "B7", Quantity: 2, Amount: 120},
	}
	once, _ := Audit(input)
	twice, diags := Audit(once)

	assert.Equal(t, once, twice)
	assert.Empty(t, diags, "auditing its own output must drop nothing")
}

func TestAuditFlagsSuspectedColumnSwap(t *testing.T) {
	items, _ := Audit([]models.LineItem{
		// qty 10 but amount ≈ MRP: the extractor likely put MRP in the
		// amount column.
		{ProductName: "Azithromycin", Batch: "Z1", Quantity: 10, Amount: 85.5, MRP: 85.0},
		// qty 1: amount equal to MRP is perfectly plausible, no flag.
		{ProductName: "Cough Syrup", Batch: "C1", Quantity: 1, Amount: 99.0, MRP: 99.0},
		// no MRP: nothing to compare against.
		{ProductName: "Bandage", Batch: "", Quantity: 5, Amount: 20.0},
	})

	require.Len(t, items, 3)
	assert.Contains(t, items[0].Logic, "column swap")
	assert.Empty(t, items[1].Logic)
	assert.Empty(t, items[2].Logic)

	// The flag annotates; it must never auto-correct the value.
	assert.Equal(t, 85.5, items[0].Amount)
}

func TestAuditPreservesOriginalOrder(t *testing.T) {
	items, _ := Audit([]models.LineItem{
		{ProductName: "C", Quantity: 1, Amount: 3},
		{ProductName: "A", Quantity: 1, Amount: 1},
		{ProductName: "B", Quantity: 1, Amount: 2},
	})
	require.Len(t, items, 3)
	assert.Equal(t, "C", items[0].ProductName)
	assert.Equal(t, "A", items[1].ProductName)
	assert.Equal(t, "B", items[2].ProductName)
}
