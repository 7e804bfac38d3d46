package services

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/medledger/invoiceflow/internal/gcp"
)

// SourceProvider supplies the raw bytes of one source document. Several
// stages read the same document, so implementations should cache.
type SourceProvider interface {
	Fetch(ctx context.Context, sourceRef string) (data []byte, mimeType string, err error)
}

// StorageSource resolves "gs://bucket/object" references through GCS and
// plain paths through the local filesystem. Fetched bytes are cached per
// reference for the lifetime of the provider.
type StorageSource struct {
	storageClient *storage.Client

	mu    sync.Mutex
	cache map[string][]byte
}

// NewStorageSource creates a source provider. storageClient may be nil
// when only local paths are used (tests, dev tooling).
func NewStorageSource(storageClient *storage.Client) *StorageSource {
	return &StorageSource{storageClient: storageClient, cache: map[string][]byte{}}
}

// Fetch returns the document bytes and a best-effort MIME type.
func (s *StorageSource) Fetch(ctx context.Context, sourceRef string) ([]byte, string, error) {
	s.mu.Lock()
	cached, ok := s.cache[sourceRef]
	s.mu.Unlock()
	if ok {
		return cached, mimeForRef(sourceRef), nil
	}

	var data []byte
	var err error
	if strings.HasPrefix(sourceRef, "gs://") {
		if s.storageClient == nil {
			return nil, "", fmt.Errorf("no storage client configured for %s", sourceRef)
		}
		bucket, object, perr := gcp.ParseGCSRef(sourceRef)
		if perr != nil {
			return nil, "", perr
		}
		data, err = gcp.ReadGCSObject(ctx, s.storageClient, bucket, object)
	} else {
		data, err = os.ReadFile(sourceRef)
	}
	if err != nil {
		return nil, "", fmt.Errorf("fetching source document %s: %w", sourceRef, err)
	}

	s.mu.Lock()
	s.cache[sourceRef] = data
	s.mu.Unlock()
	return data, mimeForRef(sourceRef), nil
}

// mimeForRef maps the reference extension to the MIME types the
// collaborator accepts. Unknown extensions default to JPEG, the common
// case for phone-photographed invoices.
func mimeForRef(ref string) string {
	switch strings.ToLower(path.Ext(ref)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
