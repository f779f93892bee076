package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-enricher/internal/async"
)

func newBatchCmd(e *env) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "batch <stage> [document...]",
		Short: "Run one stage across many documents",
		Long: `Run a stage for the listed documents, or for every document in the
artifact store when none are listed. Runs use a pool of workers; each run
still holds its document's lock.

Examples:
  enricher batch register
  enricher batch seo ACME-100 ACME-200 --workers 2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stage, docs := args[0], args[1:]
			exec, err := e.app.Executor()
			if err != nil {
				return err
			}
			if _, err := exec.Definition().Lookup(stage); err != nil {
				return err
			}
			if len(docs) == 0 {
				if docs, err = e.app.Store.Documents(ctx); err != nil {
					return err
				}
			}
			if len(docs) == 0 {
				e.printf("no documents\n")
				return nil
			}

			results, err := async.RunBatch(ctx, exec, stage, docs, workers, e.app.Logger)
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					e.printf("FAIL  %s: %v\n", r.Job.Document, r.Err)
					continue
				}
				e.printf("OK    %s (%d ms)\n", r.Job.Document, r.Elapsed.Milliseconds())
			}
			e.printf("stage=%s documents=%d succeeded=%d failed=%d\n", stage, len(results), len(results)-failed, failed)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "concurrent runs")
	return cmd
}
