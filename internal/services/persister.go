package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/medledger/invoiceflow/internal/gcp"
	"github.com/medledger/invoiceflow/internal/models"
)

// Persister consumes the terminal record. The pipeline's only contract
// with it is "hand off a complete, reconciled record"; retries and
// upsert semantics are its problem.
type Persister interface {
	Persist(ctx context.Context, record *models.TerminalRecord) error
}

// PersisterConfig holds configuration for the Firestore persister.
type PersisterConfig struct {
	ProjectID        string
	CollectionName   string
	ArchiveBucket    string // optional JSON archive of terminal records
	WorkflowID       string // optional downstream ingestion workflow
	WorkflowLocation string
}

// FirestorePersister writes terminal records to Firestore, archives a
// JSON copy to GCS and optionally triggers the downstream ingestion
// workflow, in that order. Archive and trigger failures degrade to log
// warnings; the Firestore write is the one that counts.
type FirestorePersister struct {
	firestoreClient  *firestore.Client
	storageClient    *storage.Client
	executionsClient *executions.Client
	config           PersisterConfig
}

// NewFirestorePersister creates the persistence collaborator.
// executionsClient may be nil when no workflow hand-off is configured.
func NewFirestorePersister(firestoreClient *firestore.Client, storageClient *storage.Client, executionsClient *executions.Client, config PersisterConfig) *FirestorePersister {
	if config.CollectionName == "" {
		config.CollectionName = "invoice_records"
	}
	return &FirestorePersister{
		firestoreClient:  firestoreClient,
		storageClient:    storageClient,
		executionsClient: executionsClient,
		config:           config,
	}
}

// Persist hands off one finished record.
func (p *FirestorePersister) Persist(ctx context.Context, record *models.TerminalRecord) error {
	logCtx := slog.With("sourceRef", record.SourceReference, "runId", record.RunID)

	doc := models.Document{
		SourceReference: record.SourceReference,
		RunID:           record.RunID,
		Status:          "EXTRACTED",
		LineItemCount:   len(record.LineItems),
		CreatedAt:       time.Now(),
	}
	if record.HasPartialFailure() {
		doc.Status = "EXTRACTED_WITH_WARNINGS"
	}

	docRef, _, err := p.firestoreClient.Collection(p.config.CollectionName).Add(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create invoice document: %w", err)
	}
	if _, err := docRef.Collection("records").Doc("terminal").Set(ctx, record); err != nil {
		return fmt.Errorf("failed to store terminal record: %w", err)
	}
	logCtx.Info("Terminal record persisted.", "docId", docRef.ID, "status", doc.Status)

	if p.config.ArchiveBucket != "" && p.storageClient != nil {
		if err := p.archive(ctx, docRef.ID, record); err != nil {
			logCtx.Warn("Failed to archive terminal record.", "error", err)
		}
	}
	if p.config.WorkflowID != "" && p.executionsClient != nil {
		if err := p.triggerWorkflow(ctx, docRef.ID, record); err != nil {
			logCtx.Warn("Failed to trigger ingestion workflow.", "error", err)
		}
	}
	return nil
}

// archive saves a JSON copy of the record for replay and debugging.
func (p *FirestorePersister) archive(ctx context.Context, docID string, record *models.TerminalRecord) error {
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal terminal record: %w", err)
	}
	objectName := fmt.Sprintf("%s/terminal.json", docID)
	bucketHandle := p.storageClient.Bucket(p.config.ArchiveBucket)
	return gcp.SaveToGCSAtomically(ctx, bucketHandle, objectName, string(payload))
}

// triggerWorkflow kicks the downstream ingestion workflow that loads the
// record into the product database.
func (p *FirestorePersister) triggerWorkflow(ctx context.Context, docID string, record *models.TerminalRecord) error {
	payload, err := json.Marshal(map[string]any{
		"documentId": docID,
		"runId":      record.RunID,
		"lineItems":  len(record.LineItems),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s",
			p.config.ProjectID, p.config.WorkflowLocation, p.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	if _, err := p.executionsClient.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}
