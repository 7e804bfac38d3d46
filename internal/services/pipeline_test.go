package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/invoiceflow/internal/models"
	"github.com/medledger/invoiceflow/internal/pipeline"
)

// fullStubAnalyzer plays the collaborator for a whole run: table zones
// get a transcription (with a duplicated physical row), summary zones
// get fields with a discount and a stated total, and the mapping call
// gets the normalized JSON.
type fullStubAnalyzer struct{}

func (a *fullStubAnalyzer) AnalyzeImage(ctx context.Context, data []byte, mimeType, prompt string) (string, error) {
	if strings.Contains(prompt, "item table") {
		return `Paracetamol 500mg | 10 | B1 | 9.5 | 15 | 100.00 | 3004 | 12/26
Paracetamol 500mg | 10 | B1 | 9.5 | 15 | 100.00 | 3004 | 12/26
Amoxicillin 250mg | 10+10 | AX9 | 9.5 | 30 | 200.00 | 3004 | 03/27
Cetirizine 10mg | 30 | C3 | 9.8 | 12 | 300.00 | 3004 | 06/27`, nil
	}
	return `{"Supplier_Name": "Acme Pharma", "Invoice_Number": "INV-42",
		"Global_Discount_Amount": 30, "Stated_Grand_Total": 570}`, nil
}

func (a *fullStubAnalyzer) AnalyzeText(ctx context.Context, text, prompt string) (string, error) {
	return `[
	  {"product_name": "Paracetamol 500mg", "quantity": 10, "batch": "B1", "rate": 9.5, "mrp": 15, "amount": 100.0, "hsn_code": "3004", "expiry": "12/26"},
	  {"product_name": "Paracetamol 500mg", "quantity": 10, "batch": "B1", "rate": 9.5, "mrp": 15, "amount": 100.0, "hsn_code": "3004", "expiry": "12/26"},
	  {"product_name": "Amoxicillin 250mg", "quantity": "10+10", "batch": "AX9", "rate": 9.5, "mrp": 30, "amount": 200.0, "hsn_code": "3004", "expiry": "03/27"},
	  {"product_name": "Cetirizine 10mg", "quantity": 30, "batch": "C3", "rate": 9.8, "mrp": 12, "amount": 300.0, "hsn_code": "3004", "expiry": "06/27"}
	]`, nil
}

func TestFullPipelineRun(t *testing.T) {
	graph, err := BuildGraph(&fullStubAnalyzer{}, &stubSource{data: []byte("jpeg"), mime: "image/jpeg"}, 5*time.Second)
	require.NoError(t, err)

	record, err := pipeline.NewRunner(graph).Run(context.Background(), "gs://invoices/acme-42.jpg", 0)
	require.NoError(t, err)

	// Duplicate physical row dropped by the auditor.
	require.Len(t, record.LineItems, 3)
	assert.Equal(t, "Acme Pharma", record.HeaderFields["Supplier_Name"])
	assert.Equal(t, 570.0, record.Modifiers[models.ModStatedGrandTotal])

	// Extracted sum 600 vs stated 570 with an explicit discount:
	// every line lands at 95% of its amount and the total reconciles.
	assert.Equal(t, 95.0, record.LineItems[0].NetLineAmount)
	assert.Equal(t, 190.0, record.LineItems[1].NetLineAmount)
	assert.Equal(t, 285.0, record.LineItems[2].NetLineAmount)
	assert.Equal(t, 570.0, record.ComputedTotal)

	// Scheme quantity "10+10" mapped to 20 units.
	assert.Equal(t, 20.0, record.LineItems[1].Quantity)
	assert.Equal(t, 9.5, record.LineItems[1].UnitLandingCost)

	// The dropped duplicate left a diagnostic trail.
	require.NotEmpty(t, record.Diagnostics)
	assert.Contains(t, record.Diagnostics[0], "duplicate")
}
