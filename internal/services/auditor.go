package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/medledger/invoiceflow/internal/models"
)

// AuditorStage deduplicates line items and flags a specific data-entry
// error pattern after all extraction stages have converged. It is
// deterministic for a given input order, and idempotent: auditing its
// own output drops nothing further.
type AuditorStage struct{}

// NewAuditor creates the auditor stage.
func NewAuditor() *AuditorStage { return &AuditorStage{} }

func (a *AuditorStage) Name() string { return StageAudit }

func (a *AuditorStage) Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
	items, diags := Audit(view.LineItems)
	return &models.StateDelta{
		LineItems:    items,
		ReplaceItems: true,
		Diagnostics:  diags,
	}, nil
}

// Audit deduplicates items in original order (first occurrence wins) and
// annotates suspected column swaps. It returns a fresh slice and one
// diagnostic per dropped duplicate.
func Audit(items []models.LineItem) ([]models.LineItem, []string) {
	seen := map[string]bool{}
	kept := make([]models.LineItem, 0, len(items))
	var diags []string

	for _, item := range items {
		key := dedupeKey(item)
		if seen[key] {
			diags = append(diags, fmt.Sprintf("auditor: dropped duplicate row %q (batch %s)", item.ProductName, batchOrSentinel(item.Batch)))
			continue
		}
		seen[key] = true

		// A quantity above 1 with the amount equal to the MRP usually
		// means the extractor mapped the MRP column into the amount
		// column. Flag it for the reviewer; never auto-correct.
		if item.MRP > 0 && item.Quantity > 1.5 && math.Abs(item.MRP-item.Amount) < 1.0 {
			item.Annotate("suspected column swap: amount matches MRP despite multi-unit quantity")
		}
		kept = append(kept, item)
	}
	return kept, diags
}

// dedupeKey is the fuzzy business identity of a row: normalized product
// text, batch, quantity and amount. Stable under repeated audits.
func dedupeKey(item models.LineItem) string {
	return fmt.Sprintf("%s|%s|%.3f|%.2f",
		normalizeText(item.ProductName),
		batchOrSentinel(item.Batch),
		item.Quantity,
		item.Amount)
}

// normalizeText lowercases, trims and collapses internal whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func batchOrSentinel(batch string) string {
	normalized := normalizeText(batch)
	if normalized == "" {
		return "no-batch"
	}
	return normalized
}
