package models

import "strings"

// LineItem is one candidate product line extracted from the invoice.
// Monetary fields stay float64 on the wire (the model emits plain JSON
// numbers); all arithmetic on them goes through shopspring/decimal in the
// reconciler and assembler.
type LineItem struct {
	ProductName string  `json:"product_name" firestore:"productName"`
	Quantity    float64 `json:"quantity" firestore:"quantity"`
	Batch       string  `json:"batch,omitempty" firestore:"batch,omitempty"`
	Amount      float64 `json:"amount" firestore:"amount"`
	Rate        float64 `json:"rate,omitempty" firestore:"rate,omitempty"`
	MRP         float64 `json:"mrp,omitempty" firestore:"mrp,omitempty"`
	HSNCode     string  `json:"hsn_code,omitempty" firestore:"hsnCode,omitempty"`
	Expiry      string  `json:"expiry,omitempty" firestore:"expiry,omitempty"`

	// Logic accumulates free-text annotations from the auditor and the
	// reconciler. Append-only.
	Logic string `json:"logic,omitempty" firestore:"logic,omitempty"`

	// Populated from reconciliation onwards.
	NetLineAmount   float64 `json:"net_line_amount" firestore:"netLineAmount"`
	UnitLandingCost float64 `json:"unit_landing_cost,omitempty" firestore:"unitLandingCost,omitempty"`
	MarginPercent   float64 `json:"margin_percent,omitempty" firestore:"marginPercent,omitempty"`
}

// Annotate appends a note to the item's logic trail.
func (li *LineItem) Annotate(note string) {
	if li.Logic == "" {
		li.Logic = note
		return
	}
	li.Logic += "; " + note
}

// TerminalRecord is the finished output handed to the persistence
// collaborator once the final assembler completes.
type TerminalRecord struct {
	SourceReference string             `firestore:"sourceReference"`
	RunID           string             `firestore:"runId"`
	HeaderFields    map[string]string  `firestore:"headerFields"`
	Modifiers       map[string]float64 `firestore:"modifiers"`
	LineItems       []LineItem         `firestore:"lineItems"`
	Diagnostics     []string           `firestore:"diagnostics"`
	ComputedTotal   float64            `firestore:"computedTotal"`
}

// HasPartialFailure reports whether any stage recorded an error-level
// diagnostic. Reviewers use this to route records for manual checking.
func (r *TerminalRecord) HasPartialFailure() bool {
	for _, d := range r.Diagnostics {
		if strings.Contains(d, "failed") || strings.Contains(d, "error") {
			return true
		}
	}
	return false
}
