package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/doc-enricher/constants"
	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

const stageIngest = "ingest"

// FSIngestor reads text from the local filesystem into the artifact store.
type FSIngestor struct {
	Store    artifact.Store
	MaxBytes int64 // 0 means no limit
	Logger   *slog.Logger
	now      func() time.Time
}

func NewFSIngestor(store artifact.Store, maxBytes int64, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Store: store, MaxBytes: maxBytes, Logger: logger, now: time.Now}
}

var _ Ingestor = (*FSIngestor)(nil)

func (i *FSIngestor) IngestText(ctx context.Context, document string, content []byte) (IngestionResult, error) {
	out := IngestionResult{Bytes: len(content)}
	doc, err := artifact.SanitizeDocument(document)
	if err != nil {
		return out, err
	}
	out.Document = doc

	if i.MaxBytes > 0 && int64(len(content)) > i.MaxBytes {
		return out, common.NewAppError(common.KindPayloadTooLarge,
			fmt.Sprintf("raw text for %q is %d bytes, limit is %d", doc, len(content), i.MaxBytes), nil)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return out, common.ValidationErrorf("raw text for %q is empty", doc)
	}
	if mt := mimetype.Detect(content); !isText(mt) {
		return out, common.ValidationErrorf("content for %q is %s, not text", doc, mt.String())
	}

	sum := sha256.Sum256(content)
	out.HashHex = hex.EncodeToString(sum[:])
	out.IngestedAt = i.now().UTC()

	prev, err := i.Store.Get(ctx, doc, artifact.KeyOf(artifact.RawText))
	switch {
	case err == nil && bytes.Equal(prev, content):
		out.Deduplicated = true
		i.Logger.Info("ingest.dedup", "document", doc, "sha256", out.HashHex)
		return out, nil
	case err != nil && !errors.Is(err, common.ErrNotFound):
		return out, err
	}

	if err := i.Store.Put(ctx, doc, artifact.KeyOf(artifact.RawText), content, stageIngest); err != nil {
		return out, err
	}
	i.Logger.Info("ingest.ok", "document", doc, "bytes", len(content), "sha256", out.HashHex)
	return out, nil
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	out := IngestionResult{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		i.Logger.Error("ingest.abs_path_failed", "path", path, "error", err)
		return out, err
	}
	out.SourcePath = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		i.Logger.Warn("ingest.unsupported_extension", "path", abs, "ext", ext)
		return out, common.ValidationErrorf("unsupported or missing extension %q", ext)
	}

	f, err := os.Open(abs)
	if err != nil {
		i.Logger.Error("ingest.open_failed", "path", abs, "error", err)
		return out, err
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			i.Logger.Warn("ingest.close_failed", "path", abs, "error", err)
		}
	}(f)

	var rd io.Reader = f
	if i.MaxBytes > 0 {
		// one extra byte so oversize files are detected rather than truncated
		rd = io.LimitReader(f, i.MaxBytes+1)
	}
	content, err := io.ReadAll(rd)
	if err != nil {
		i.Logger.Error("ingest.read_failed", "path", abs, "error", err)
		return out, err
	}

	res, err := i.IngestText(ctx, DocumentName(abs), content)
	res.SourcePath = abs
	return res, err
}

// IngestDirectory walks root, skips hidden if requested,
// and calls IngestPath for each file. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, common.ValidationErrorf("root path is required")
	}

	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}

		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	i.Logger.Info("ingest.directory.done", "root", root,
		"scanned", stats.Scanned, "matched", stats.Matched, "succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated, "failed", stats.Failed)
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return true
		}
	}
	return false
}
