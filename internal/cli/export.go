package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd(e *env) *cobra.Command {
	var (
		out  string
		docs []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write enriched documents to an XLSX workbook",
		Long: `Export one row per enriched document (metadata, taxonomy, descriptions
and keywords) to an XLSX file.

Examples:
  enricher export --out catalogue.xlsx
  enricher export --out two.xlsx --document ACME-100 --document ACME-200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := e.app.Exporter.ExportDocumentsXLSX(cmd.Context(), docs)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			e.printf("wrote %s (%d bytes)\n", out, len(b))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "documents.xlsx", "output XLSX file path")
	cmd.Flags().StringArrayVarP(&docs, "document", "d", nil, "limit the export to these documents")
	return cmd
}
