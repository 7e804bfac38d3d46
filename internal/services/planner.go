package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/medledger/invoiceflow/internal/models"
)

// PlannerStage writes the extraction plan: which zones of the document
// the analysis stages should look at. The plan is written once and is
// read-only afterwards.
type PlannerStage struct {
	source SourceProvider
}

// NewPlanner creates the planner stage.
func NewPlanner(source SourceProvider) *PlannerStage {
	return &PlannerStage{source: source}
}

func (p *PlannerStage) Name() string { return StagePlan }

// Run plans one header zone, one footer zone and one table zone per
// page. Photographed invoices are a single page; PDF sources may carry
// item tables continued across pages, so each extra page gets its own
// table zone.
func (p *PlannerStage) Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
	data, mimeType, err := p.source.Fetch(ctx, view.SourceReference)
	if err != nil {
		return nil, err
	}

	pages := 1
	delta := &models.StateDelta{}
	if mimeType == "application/pdf" {
		pages, err = pdfPageCount(data)
		if err != nil {
			// Degrade to a single-page plan rather than failing the run.
			delta.Diagnostics = append(delta.Diagnostics,
				fmt.Sprintf("planner: could not determine PDF page count, assuming 1 page: %v", err))
			pages = 1
		}
	}

	plan := []models.Zone{
		{Kind: "header", Description: "supplier, invoice number, date and buyer block at the top", Page: 1},
	}
	for page := 1; page <= pages; page++ {
		plan = append(plan, models.Zone{
			Kind:        "table",
			Description: "main item table with product, quantity, batch, rate, MRP, amount, HSN and expiry columns",
			Page:        page,
		})
	}
	plan = append(plan, models.Zone{
		Kind:        "footer",
		Description: "totals block with discount, freight, SGST/CGST/IGST, round-off and grand total",
		Page:        pages,
	})

	delta.Plan = plan
	return delta, nil
}

// pdfPageCount reads the page count from in-memory PDF bytes using
// relaxed validation, since scanned invoices are often produced by
// sloppy generators.
func pdfPageCount(data []byte) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	count, err := api.PageCount(bytes.NewReader(data), cfg)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu page count: %w", err)
	}
	if count < 1 {
		return 0, fmt.Errorf("pdfcpu reported %d pages", count)
	}
	return count, nil
}
