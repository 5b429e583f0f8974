// Package index talks to the document index that tracks capture files.
package index

import (
	"context"
	"time"
)

// File is a capture file known to the index.
type File struct {
	Path      string
	ID        string
	Timestamp time.Time
}

// DocRef addresses one index document for bulk updates.
type DocRef struct {
	DocumentID string
	Index      string
}

// Batch is one page of the oldest files. Refs is parallel to Files.
type Batch struct {
	Files  []File
	Refs   []DocRef
	Oldest time.Time
}

// Len returns the number of files in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Files)
}

// RemovedUpdate is the partial document applied to records whose files are
// gone from disk.
func RemovedUpdate() map[string]any {
	return map[string]any{FieldRemoved: true}
}

// Index is the subset of the document index the retention engine needs.
type Index interface {
	// FileCount returns the number of capture files not yet marked removed.
	FileCount(ctx context.Context) (int64, error)
	// OldestFiles returns up to n of the oldest unremoved files. No files
	// is an empty batch, not an error.
	OldestFiles(ctx context.Context, n int) (*Batch, error)
	// BulkMarkRemoved applies update to every referenced document.
	BulkMarkRemoved(ctx context.Context, refs []DocRef, update map[string]any) error
}
