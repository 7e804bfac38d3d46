package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/medledger/invoiceflow/internal/models"
	"github.com/medledger/invoiceflow/internal/services"
)

var (
	extractorInstance *services.ExtractorFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework routes GCS
	// object-finalized events here.
	functions.CloudEvent("ExtractOnUpload", extractOnUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// extractOnUpload starts a pipeline run for every invoice uploaded to
// the watched bucket.
func extractOnUpload(ctx context.Context, e cloudevents.Event) error {
	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		extractorInstance, initErr = services.NewExtractor(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	req := &models.ExtractRequest{
		SourceReference: fmt.Sprintf("gs://%s/%s", gcsEvent.Bucket, gcsEvent.Name),
	}
	if _, err := extractorInstance.Process(ctx, req); err != nil {
		// The error is already logged with context within Process.
		// Returning it marks the function invocation as failed.
		return err
	}
	return nil
}
