package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/google/uuid"

	"github.com/medledger/invoiceflow/internal/gcp"
	"github.com/medledger/invoiceflow/internal/models"
	"github.com/medledger/invoiceflow/internal/pipeline"
)

// ExtractorConfig holds all configuration for the extractor service.
type ExtractorConfig struct {
	ProjectID        string
	VertexAIRegion   string
	CollectionName   string
	ArchiveBucket    string
	WorkflowID       string
	WorkflowLocation string
	StageTimeout     time.Duration
}

// ExtractorFunction holds the dependencies for one deployed extractor.
type ExtractorFunction struct {
	runner       *pipeline.Runner
	persister    Persister
	vertexClient *gcp.VertexClient
	config       ExtractorConfig
}

// loadExtractorConfig loads and validates all necessary environment
// variables for this service.
func loadExtractorConfig() (*ExtractorConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	stageTimeout := pipeline.DefaultStageTimeout
	if raw := gcp.GetEnv("STAGE_TIMEOUT", ""); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid STAGE_TIMEOUT %q: %w", raw, err)
		}
		stageTimeout = parsed
	}

	return &ExtractorConfig{
		ProjectID:        projectID,
		VertexAIRegion:   gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "invoice_records"),
		ArchiveBucket:    gcp.GetEnv("ARCHIVE_BUCKET", ""),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		StageTimeout:     stageTimeout,
	}, nil
}

// NewExtractor creates a fully wired ExtractorFunction instance.
func NewExtractor(ctx context.Context) (*ExtractorFunction, error) {
	config, err := loadExtractorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	var executionsClient *executions.Client
	if config.WorkflowID != "" {
		executionsClient, err = executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create workflows executions client: %w", err)
		}
	}

	graph, err := BuildGraph(NewVertexAnalyzer(vertexClient), NewStorageSource(storageClient), config.StageTimeout)
	if err != nil {
		return nil, err
	}

	persister := NewFirestorePersister(firestoreClient, storageClient, executionsClient, PersisterConfig{
		ProjectID:        config.ProjectID,
		CollectionName:   config.CollectionName,
		ArchiveBucket:    config.ArchiveBucket,
		WorkflowID:       config.WorkflowID,
		WorkflowLocation: config.WorkflowLocation,
	})

	return &ExtractorFunction{
		runner:       pipeline.NewRunner(graph),
		persister:    persister,
		vertexClient: vertexClient,
		config:       *config,
	}, nil
}

// Process runs the extraction pipeline for one source document and hands
// the terminal record to the persistence collaborator.
func (f *ExtractorFunction) Process(ctx context.Context, req *models.ExtractRequest) (*models.ExtractResponse, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logCtx := slog.With("sourceRef", req.SourceReference, "runId", runID)
	logCtx.Info("Starting invoice extraction.", "retry", req.RetryCounter)

	record, err := f.runner.Run(ctx, req.SourceReference, req.RetryCounter)
	if err != nil {
		logCtx.Error("Pipeline run failed.", "error", err)
		return nil, err
	}
	record.RunID = runID

	if err := f.persister.Persist(ctx, record); err != nil {
		logCtx.Error("Failed to persist terminal record.", "error", err)
		return nil, fmt.Errorf("persisting terminal record: %w", err)
	}

	logCtx.Info("Extraction complete.",
		"lineItems", len(record.LineItems), "computedTotal", record.ComputedTotal)
	return &models.ExtractResponse{
		Status:        "success",
		RunID:         runID,
		LineItemCount: len(record.LineItems),
		ComputedTotal: record.ComputedTotal,
		Diagnostics:   record.Diagnostics,
	}, nil
}

// Close releases the underlying Vertex client.
func (f *ExtractorFunction) Close() error {
	if f.vertexClient != nil {
		return f.vertexClient.Close()
	}
	return nil
}
