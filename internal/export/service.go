package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

// Source is the read side of the artifact store the export needs.
type Source interface {
	Documents(ctx context.Context) ([]string, error)
	Get(ctx context.Context, doc string, key artifact.Key) ([]byte, error)
}

// Service produces XLSX workbooks summarizing enriched documents.
type Service struct {
	src    Source
	logger *slog.Logger
}

func NewService(src Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{src: src, logger: logger}
}

const sheet = "Documents"

var headers = []string{
	"Document",
	"Product Name",
	"Manufacturer",
	"Model",
	"Family",
	"Subfamily",
	"Category",
	"Short Description",
	"Keywords",
}

// metadataColumns are read from the metadata artifact, in column order after Document.
var metadataColumns = []string{"product_name", "manufacturer", "model", "family", "subfamily", "category", "short_description"}

// ExportDocumentsXLSX returns a workbook with one row per enriched document.
// When docs is empty every document in the store is considered; documents
// with neither metadata nor SEO terms are skipped.
func (s *Service) ExportDocumentsXLSX(ctx context.Context, docs []string) ([]byte, error) {
	start := time.Now()
	if len(docs) == 0 {
		all, err := s.src.Documents(ctx)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		docs = all
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row, skipped := 2, 0
	for _, doc := range docs {
		meta, err := s.object(ctx, doc, artifact.Metadata)
		if err != nil {
			return nil, err
		}
		seo, err := s.object(ctx, doc, artifact.SEOTerms)
		if err != nil {
			return nil, err
		}
		if meta == nil && seo == nil {
			skipped++
			continue
		}

		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, doc)
		for i, key := range metadataColumns {
			write(i+2, cellText(meta[key]))
		}
		write(len(headers), keywords(seo["kw"]))
		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 24) // document
	_ = f.SetColWidth(sheet, "B", "D", 22) // product
	_ = f.SetColWidth(sheet, "E", "G", 18) // taxonomy
	_ = f.SetColWidth(sheet, "H", "H", 60) // description
	_ = f.SetColWidth(sheet, "I", "I", 48) // keywords

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", row-2,
		"skipped", skipped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// object returns nil for a missing or unreadable structured artifact.
func (s *Service) object(ctx context.Context, doc string, kind artifact.Kind) (map[string]any, error) {
	b, err := s.src.Get(ctx, doc, artifact.KeyOf(kind))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s/%s: %w", doc, kind, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		s.logger.Warn("export.artifact.unreadable", "document", doc, "kind", kind, "error", err)
		return nil, nil
	}
	return m, nil
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(t, 1000)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return truncate(string(b), 1000)
	}
}

func keywords(v any) string {
	list, ok := v.([]any)
	if !ok {
		return cellText(v)
	}
	parts := make([]string, 0, len(list))
	for _, item := range list {
		parts = append(parts, cellText(item))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
