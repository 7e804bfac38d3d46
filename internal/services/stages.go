package services

import (
	"fmt"
	"time"

	"github.com/medledger/invoiceflow/internal/pipeline"
)

// Stage names. The topology below is fixed at initialization:
//
//	plan → {analyze_tables, analyze_summary} → map_lines → audit → reconcile → assemble
//
// map_lines declares both analysis stages as predecessors, which is the
// AND-join: it only runs once every zone's contribution has been merged.
const (
	StagePlan           = "plan"
	StageAnalyzeTables  = "analyze_tables"
	StageAnalyzeSummary = "analyze_summary"
	StageMapLines       = "map_lines"
	StageAudit          = "audit"
	StageReconcile      = "reconcile"
	StageAssemble       = "assemble"
)

// BuildGraph wires the standard invoice extraction topology. Local
// stages (audit onwards) get a short timeout; the collaborator-bound
// stages get stageTimeout.
func BuildGraph(analyzer DocumentAnalyzer, source SourceProvider, stageTimeout time.Duration) (*pipeline.Graph, error) {
	g := pipeline.NewGraph()

	type registration struct {
		stage   pipeline.Stage
		timeout time.Duration
		deps    []string
	}
	localTimeout := 10 * time.Second
	regs := []registration{
		{NewPlanner(source), stageTimeout, nil},
		{NewTableAnalysis(analyzer, source), stageTimeout, []string{StagePlan}},
		{NewSummaryAnalysis(analyzer, source), stageTimeout, []string{StagePlan}},
		{NewLineMapper(analyzer), stageTimeout, []string{StageAnalyzeTables, StageAnalyzeSummary}},
		{NewAuditor(), localTimeout, []string{StageMapLines}},
		{NewReconciler(), localTimeout, []string{StageAudit}},
		{NewAssembler(), localTimeout, []string{StageReconcile}},
	}
	for _, reg := range regs {
		if err := g.Add(reg.stage, reg.timeout, reg.deps...); err != nil {
			return nil, fmt.Errorf("building stage graph: %w", err)
		}
	}
	return g, nil
}
