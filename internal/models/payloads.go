package models

// These structs define the JSON payloads for HTTP requests and responses
// between callers (upload handler, reprocess jobs) and the extractor
// function.

// ExtractRequest is the input for the invoice-extractor function.
type ExtractRequest struct {
	SourceReference string `json:"sourceReference"`
	RetryCounter    int    `json:"retryCounter,omitempty"`
	RunID           string `json:"runId,omitempty"`
}

// ExtractResponse is the output of the invoice-extractor function.
type ExtractResponse struct {
	Status        string   `json:"status"`
	RunID         string   `json:"runId"`
	LineItemCount int      `json:"lineItemCount"`
	ComputedTotal float64  `json:"computedTotal"`
	Diagnostics   []string `json:"diagnostics,omitempty"`
}

// GCSEvent is the payload of a GCS object-finalized event, used by the
// watcher entry point to start a pipeline run on upload.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
