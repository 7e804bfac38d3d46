package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/invoiceflow/internal/models"
)

// fakeStage runs an arbitrary function as a stage.
type fakeStage struct {
	name string
	run  func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error)
}

func (s *fakeStage) Name() string { return s.name }
func (s *fakeStage) Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
	return s.run(ctx, view)
}

func headerStage(name, key, value string) *fakeStage {
	return &fakeStage{name: name, run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		return &models.StateDelta{Header: map[string]string{key: value}}, nil
	}}
}

func TestAddRejectsUnknownDependencyAndDuplicates(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(headerStage("a", "k", "v"), 0))
	assert.Error(t, g.Add(headerStage("a", "k", "v"), 0))
	assert.Error(t, g.Add(headerStage("b", "k", "v"), 0, "missing"))
}

func TestExecuteJoinWaitsForAllPredecessors(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(headerStage("root", "root", "done"), 0))

	var mu sync.Mutex
	started := map[string]time.Time{}
	slowSibling := &fakeStage{name: "slow", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		mu.Lock()
		started["slow"] = time.Now()
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		return &models.StateDelta{Header: map[string]string{"slow": "yes"}}, nil
	}}
	fastSibling := &fakeStage{name: "fast", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		mu.Lock()
		started["fast"] = time.Now()
		mu.Unlock()
		return &models.StateDelta{Header: map[string]string{"fast": "yes"}}, nil
	}}
	require.NoError(t, g.Add(slowSibling, 0, "root"))
	require.NoError(t, g.Add(fastSibling, 0, "root"))

	var joinView *models.DocumentState
	join := &fakeStage{name: "join", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		joinView = view
		return nil, nil
	}}
	require.NoError(t, g.Add(join, 0, "slow", "fast"))

	state := models.NewDocumentState("ref", 0)
	require.NoError(t, g.Execute(context.Background(), state))

	// The join stage must observe both sibling contributions, never a
	// partial merge.
	require.NotNil(t, joinView)
	assert.Equal(t, "yes", joinView.HeaderFields["slow"])
	assert.Equal(t, "yes", joinView.HeaderFields["fast"])

	// And the siblings genuinely overlapped in time (fan-out, not serial).
	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, started["fast"].Sub(started["slow"]).Abs(), 40*time.Millisecond)
}

func TestExecuteIsolatedStageFailure(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(headerStage("root", "root", "done"), 0))

	failing := &fakeStage{name: "broken", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		return nil, errors.New("collaborator exploded")
	}}
	require.NoError(t, g.Add(failing, 0, "root"))
	require.NoError(t, g.Add(headerStage("healthy", "healthy", "yes"), 0, "root"))
	require.NoError(t, g.Add(headerStage("tail", "tail", "yes"), 0, "broken", "healthy"))

	state := models.NewDocumentState("ref", 0)
	require.NoError(t, g.Execute(context.Background(), state))

	// The healthy sibling's contribution survives, the failure is a
	// diagnostic, and the dependent stage still ran.
	assert.Equal(t, "yes", state.HeaderFields["healthy"])
	assert.Equal(t, "yes", state.HeaderFields["tail"])
	require.Len(t, state.Diagnostics, 1)
	assert.Contains(t, state.Diagnostics[0], "broken")
	assert.Contains(t, state.Diagnostics[0], "collaborator exploded")
}

func TestExecuteStageTimeoutBecomesDiagnostic(t *testing.T) {
	g := NewGraph()
	hanging := &fakeStage{name: "hang", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	require.NoError(t, g.Add(hanging, 20*time.Millisecond))
	require.NoError(t, g.Add(headerStage("after", "after", "yes"), 0, "hang"))

	state := models.NewDocumentState("ref", 0)
	require.NoError(t, g.Execute(context.Background(), state))

	assert.Equal(t, "yes", state.HeaderFields["after"])
	require.Len(t, state.Diagnostics, 1)
	assert.Contains(t, state.Diagnostics[0], "hang")
}

func TestExecuteRecoversStagePanic(t *testing.T) {
	g := NewGraph()
	panicking := &fakeStage{name: "panicky", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		panic("boom")
	}}
	require.NoError(t, g.Add(panicking, 0))

	state := models.NewDocumentState("ref", 0)
	require.NoError(t, g.Execute(context.Background(), state))
	require.Len(t, state.Diagnostics, 1)
	assert.Contains(t, state.Diagnostics[0], "panic")
}

func TestExecuteAppliesDeltasInRegistrationOrder(t *testing.T) {
	// Both siblings write the same key; the later-registered stage must
	// win regardless of which goroutine finishes first.
	for range 20 {
		g := NewGraph()
		require.NoError(t, g.Add(headerStage("root", "root", "done"), 0))
		first := &fakeStage{name: "first", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
			time.Sleep(5 * time.Millisecond)
			return &models.StateDelta{Header: map[string]string{"winner": "first"}}, nil
		}}
		require.NoError(t, g.Add(first, 0, "root"))
		require.NoError(t, g.Add(headerStage("second", "winner", "second"), 0, "root"))

		state := models.NewDocumentState("ref", 0)
		require.NoError(t, g.Execute(context.Background(), state))
		require.Equal(t, "second", state.HeaderFields["winner"])
	}
}

func TestRunnerRejectsEmptySourceReference(t *testing.T) {
	r := NewRunner(NewGraph())
	_, err := r.Run(context.Background(), "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source reference")
}

func TestRunnerFailsWhenPipelineProducesNothing(t *testing.T) {
	g := NewGraph()
	noop := &fakeStage{name: "noop", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		return nil, errors.New("nothing works")
	}}
	require.NoError(t, g.Add(noop, 0))

	_, err := NewRunner(g).Run(context.Background(), "gs://bucket/invoice.jpg", 0)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no output"))
}

func TestRunnerReturnsTerminalRecord(t *testing.T) {
	g := NewGraph()
	producing := &fakeStage{name: "all-in-one", run: func(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
		return &models.StateDelta{
			Plan:         []models.Zone{{Kind: "table", Page: 1}},
			LineItems:    []models.LineItem{{ProductName: "Paracetamol", NetLineAmount: 50}},
			ReplaceItems: true,
			Terminal:     &models.TerminalRecord{SourceReference: view.SourceReference, ComputedTotal: 50},
		}, nil
	}}
	require.NoError(t, g.Add(producing, 0))

	record, err := NewRunner(g).Run(context.Background(), "gs://bucket/invoice.jpg", 1)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/invoice.jpg", record.SourceReference)
	assert.Equal(t, 50.0, record.ComputedTotal)
}
