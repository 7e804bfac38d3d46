package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medledger/invoiceflow/internal/models"
)

// Runner is the pipeline entry point. It owns one immutable graph and
// drives a fresh DocumentState through it per source document.
type Runner struct {
	graph *Graph
}

// NewRunner wraps a fully built stage graph.
func NewRunner(g *Graph) *Runner {
	return &Runner{graph: g}
}

// Run executes the pipeline for one source document and returns the
// terminal record.
//
// A missing source reference is the only error surfaced before the graph
// starts; everything downstream degrades to diagnostics. Run fails after
// the fact only when the pipeline produced nothing at all (no extraction
// plan and no line items).
func (r *Runner) Run(ctx context.Context, sourceRef string, retry int) (*models.TerminalRecord, error) {
	if sourceRef == "" {
		return nil, fmt.Errorf("source reference must not be empty")
	}

	state := models.NewDocumentState(sourceRef, retry)
	if err := r.graph.Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("executing stage graph: %w", err)
	}

	if len(state.ExtractionPlan) == 0 && len(state.LineItems) == 0 {
		return nil, fmt.Errorf("pipeline produced no output for %s: %v", sourceRef, state.Diagnostics)
	}
	if state.Terminal == nil {
		return nil, fmt.Errorf("pipeline finished without a terminal record for %s", sourceRef)
	}

	slog.Info("Pipeline run complete.",
		"sourceRef", sourceRef,
		"lineItems", len(state.Terminal.LineItems),
		"diagnostics", len(state.Terminal.Diagnostics))
	return state.Terminal, nil
}
