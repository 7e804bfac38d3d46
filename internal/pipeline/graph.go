// Package pipeline executes a fixed dependency graph of extraction stages
// over one shared document state.
//
// Stages at the same depth run concurrently, each against an isolated
// snapshot of the state. Their partial updates are applied sequentially,
// in registration order, once the whole level has finished: joins are
// AND-joins with an explicit synchronization barrier, so a dependent
// stage never runs on partial input.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/medledger/invoiceflow/internal/models"
)

// Stage is one unit of work in the graph. Run receives a read-only
// snapshot of the merged state and returns a partial update; it must not
// mutate the snapshot's maps or slices in place.
type Stage interface {
	Name() string
	Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error)
}

// DefaultStageTimeout bounds a single stage invocation. Analysis stages
// suspend on the external model call, so this is generous.
const DefaultStageTimeout = 2 * time.Minute

type node struct {
	stage   Stage
	deps    []string
	timeout time.Duration
}

// Graph is a fixed stage topology. It is built once at initialization
// and is not reconfigurable at run time.
type Graph struct {
	nodes  []node
	byName map[string]int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{byName: map[string]int{}}
}

// Add registers a stage with its declared predecessors. Dependencies
// must already be registered, which makes cycles impossible to declare.
func (g *Graph) Add(stage Stage, timeout time.Duration, deps ...string) error {
	name := stage.Name()
	if _, exists := g.byName[name]; exists {
		return fmt.Errorf("stage %q is already registered", name)
	}
	for _, dep := range deps {
		if _, ok := g.byName[dep]; !ok {
			return fmt.Errorf("stage %q depends on unknown stage %q", name, dep)
		}
	}
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	g.byName[name] = len(g.nodes)
	g.nodes = append(g.nodes, node{stage: stage, deps: deps, timeout: timeout})
	return nil
}

// stageResult carries one stage's delta (or failure) back to the
// single-threaded merge step.
type stageResult struct {
	index int
	delta *models.StateDelta
	err   error
}

// Execute drives the state from the entry stages to the terminal stage.
//
// Each wave runs every stage whose predecessors have all completed. A
// stage that returns an error or times out contributes an empty delta
// plus a diagnostic; its siblings always run to completion. No stage
// error escapes Execute.
func (g *Graph) Execute(ctx context.Context, state *models.DocumentState) error {
	done := make([]bool, len(g.nodes))
	completed := 0

	for completed < len(g.nodes) {
		var ready []int
		for i, n := range g.nodes {
			if done[i] {
				continue
			}
			satisfied := true
			for _, dep := range n.deps {
				if !done[g.byName[dep]] {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, i)
			}
		}
		if len(ready) == 0 {
			return fmt.Errorf("stage graph stalled with %d of %d stages complete", completed, len(g.nodes))
		}

		// Fan out: every ready stage gets its own snapshot and timeout.
		results := make([]stageResult, len(ready))
		var wg sync.WaitGroup
		for slot, idx := range ready {
			wg.Add(1)
			go func(slot, idx int) {
				defer wg.Done()
				results[slot] = g.runStage(ctx, idx, state.Clone())
			}(slot, idx)
		}
		wg.Wait()

		// Barrier passed: apply every delta sequentially, in registration
		// order, so sibling completion order can never race on the state.
		for _, idx := range ready {
			for _, res := range results {
				if res.index != idx {
					continue
				}
				name := g.nodes[idx].stage.Name()
				if res.err != nil {
					state.Diagnostics = append(state.Diagnostics,
						fmt.Sprintf("stage %s failed: %v", name, res.err))
					slog.Warn("Stage failed, continuing with empty update.",
						"stage", name, "error", res.err)
				} else if err := state.Apply(res.delta); err != nil {
					state.Diagnostics = append(state.Diagnostics,
						fmt.Sprintf("stage %s merge failed: %v", name, err))
				}
				done[idx] = true
				completed++
			}
		}
	}
	return nil
}

// runStage invokes one stage with its timeout, converting panics and
// timeouts into ordinary stage failures.
func (g *Graph) runStage(ctx context.Context, idx int, view *models.DocumentState) (res stageResult) {
	res.index = idx
	n := g.nodes[idx]

	stageCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res.delta, res.err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	start := time.Now()
	delta, err := n.stage.Run(stageCtx, view)
	if err == nil && stageCtx.Err() != nil {
		err = stageCtx.Err()
	}
	slog.Debug("Stage finished.", "stage", n.stage.Name(),
		"duration", time.Since(start), "error", err)

	res.delta, res.err = delta, err
	return res
}
