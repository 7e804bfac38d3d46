package models

import "time"

// Document represents the main record for an invoice extraction job in
// Firestore. It tracks the overall status and metadata of the source file.
type Document struct {
	FileHash        string    `firestore:"fileHash,omitempty"`
	SourceReference string    `firestore:"sourceReference,omitempty"`
	Status          string    `firestore:"status,omitempty"`
	ErrorDetails    string    `firestore:"errorDetails,omitempty"`
	LineItemCount   int       `firestore:"lineItemCount,omitempty"`
	RunID           string    `firestore:"runId,omitempty"` // For traceability
	RetryCounter    int       `firestore:"retryCounter,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt,omitempty"`
}
