package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/invoiceflow/internal/models"
)

func TestPlannerSinglePagePhoto(t *testing.T) {
	planner := NewPlanner(&stubSource{data: []byte("jpeg bytes"), mime: "image/jpeg"})

	delta, err := planner.Run(context.Background(), models.NewDocumentState("gs://b/invoice.jpg", 0))
	require.NoError(t, err)
	require.Len(t, delta.Plan, 3)

	kinds := []string{delta.Plan[0].Kind, delta.Plan[1].Kind, delta.Plan[2].Kind}
	assert.Equal(t, []string{"header", "table", "footer"}, kinds)
	assert.Empty(t, delta.Diagnostics)
}

func TestPlannerUnreadablePDFDegradesToSinglePage(t *testing.T) {
	planner := NewPlanner(&stubSource{data: []byte("not a real pdf"), mime: "application/pdf"})

	delta, err := planner.Run(context.Background(), models.NewDocumentState("gs://b/invoice.pdf", 0))
	require.NoError(t, err)
	require.Len(t, delta.Plan, 3, "falls back to a single-page plan")
	require.Len(t, delta.Diagnostics, 1)
	assert.Contains(t, delta.Diagnostics[0], "page count")
}

func TestPlannerFetchFailurePropagatesAsStageError(t *testing.T) {
	planner := NewPlanner(&stubSource{err: errors.New("object not found")})

	_, err := planner.Run(context.Background(), models.NewDocumentState("gs://b/missing.jpg", 0))
	require.Error(t, err)
}
