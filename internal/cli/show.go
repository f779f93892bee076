package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
)

func newStagesCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List pipeline stages",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STAGE\tREQUIRES\tPRODUCES\tJOB\tTEMPLATE")
			for _, st := range pipeline.DefaultDefinition().Stages() {
				info := st.Info()
				tmpl := "-"
				if st.TemplateID != "" {
					tmpl = "missing"
					if _, err := e.app.Registry.Get(st.TemplateID); err == nil {
						tmpl = "ok"
					}
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					info.ID, strings.Join(info.Requires, ","), info.Produces, info.JobKind, tmpl)
			}
			return tw.Flush()
		},
	}
}

func newShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <document> [kind]",
		Short: "Print an artifact, or the manifest when no kind is given",
		Long: `Print one artifact of a document. Kinds are raw_text, provider_file_ref,
metadata, seo_terms, execution_log:<stage> and agent_ref:<stage>.

Examples:
  enricher show ACME-100
  enricher show ACME-100 metadata
  enricher show ACME-100 execution_log:seo`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, err := artifact.SanitizeDocument(args[0])
			if err != nil {
				return err
			}
			if len(args) == 1 {
				m, err := e.app.Store.Manifest(ctx, doc)
				if err != nil {
					return err
				}
				b, err := json.MarshalIndent(m, "", "  ")
				if err != nil {
					return err
				}
				e.printf("%s\n", b)
				return nil
			}
			key, err := artifact.ParseKey(args[1])
			if err != nil {
				return err
			}
			b, err := e.app.Store.Get(ctx, doc, key)
			if err != nil {
				return err
			}
			e.printf("%s\n", strings.TrimRight(string(b), "\n"))
			return nil
		},
	}
}

func newRunsCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <document>",
		Short: "Show the stage run history of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.app.Runs == nil {
				return common.NewAppError(common.KindConfig, "run history is disabled (set RUNS_DB_DSN)", common.ErrInvalidInput)
			}
			runs, err := e.app.Runs.ListByDocument(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STARTED\tSTAGE\tSTATUS\tDURATION\tERROR")
			for _, r := range runs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Format(time.RFC3339), r.Stage, r.Status, r.Duration().Round(time.Millisecond), r.ErrorKind)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max runs")
	return cmd
}
