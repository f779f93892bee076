package ingest

import (
	"context"
	"time"
)

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string    `json:"source_path,omitempty"`
	Document     string    `json:"document,omitempty"`
	Deduplicated bool      `json:"deduplicated"`
	HashHex      string    `json:"sha256,omitempty"`
	Bytes        int       `json:"bytes"`
	IngestedAt   time.Time `json:"ingested_at"`
	Err          string    `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

// Ingestor turns already-extracted text into raw_text artifacts.
type Ingestor interface {
	// IngestText stores content as the raw text of a document.
	IngestText(ctx context.Context, document string, content []byte) (IngestionResult, error)
	// IngestPath ingests a single file; the document is named after its basename.
	IngestPath(ctx context.Context, path string) (IngestionResult, error)
	// IngestDirectory ingests all matching files under root.
	IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error)
}
