package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-enricher/internal/ingest"
	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
)

func newIngestCmd(e *env) *cobra.Command {
	var includeHidden bool
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Store extracted text files as raw_text artifacts",
		Long: `Ingest a .txt or .md file, or every such file under a directory. The
document is named after the file basename without its extension.

Examples:
  enricher ingest ./texts/ACME-100.txt
  enricher ingest ./texts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				res, err := e.app.Ingestor.IngestPath(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("ingest %s: %w", args[0], err)
				}
				e.printResult(res)
				return nil
			}

			results, stats, err := e.app.Ingestor.IngestDirectory(cmd.Context(), args[0], !includeHidden)
			for _, r := range results {
				e.printResult(r)
			}
			e.printf("scanned=%d matched=%d succeeded=%d deduplicated=%d failed=%d\n",
				stats.Scanned, stats.Matched, stats.Succeeded, stats.Deduplicated, stats.Failed)
			if err != nil {
				return err
			}
			if stats.Failed > 0 {
				return fmt.Errorf("%d file(s) failed to ingest", stats.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeHidden, "hidden", false, "include hidden files and directories")
	return cmd
}

func (e *env) printResult(r ingest.IngestionResult) {
	switch {
	case r.Err != "":
		e.printf("FAIL  %s: %s\n", r.SourcePath, r.Err)
	case r.Deduplicated:
		e.printf("SAME  %s -> %s\n", r.SourcePath, r.Document)
	default:
		e.printf("OK    %s -> %s (%d bytes)\n", r.SourcePath, r.Document, r.Bytes)
	}
}

func newWatchCmd(e *env) *cobra.Command {
	var (
		then     []string
		debounce time.Duration
		scan     bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Ingest text files as they appear, optionally running stages",
		Long: `Watch directories for new or changed .txt/.md files and ingest them.
With --then, the listed stages run in order for every ingested document and
the chain stops at the first failure.

Examples:
  enricher watch ./inbox
  enricher watch ./inbox --then register,metadata,taxonomy,narrative,seo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := e.app.Logger

			var exec *pipeline.Executor
			if len(then) > 0 {
				var err error
				if exec, err = e.app.Executor(); err != nil {
					return err
				}
			}

			events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
				Roots:       args,
				InitialScan: scan,
				Debounce:    debounce,
				Logger:      log,
			})
			if err != nil {
				return err
			}
			log.Info("watch.started", "roots", args, "then", then)

			for {
				select {
				case <-ctx.Done():
					log.Info("watch.stopped")
					return nil
				case err, ok := <-errs:
					if ok {
						log.Warn("watch.error", "error", err)
					}
				case path, ok := <-events:
					if !ok {
						return nil
					}
					res, err := e.app.Ingestor.IngestPath(ctx, path)
					if err != nil {
						res.Err = err.Error()
						e.printResult(res)
						continue
					}
					e.printResult(res)
					if exec == nil || res.Deduplicated {
						continue
					}
					for _, stage := range then {
						if _, err := exec.Run(ctx, stage, pipeline.Request{Document: res.Document}); err != nil {
							e.printf("FAIL  %s %s: %v\n", res.Document, stage, err)
							break
						}
						e.printf("DONE  %s %s\n", res.Document, stage)
					}
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&then, "then", nil, "stages to run after each ingest")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "coalesce bursts of file events")
	cmd.Flags().BoolVar(&scan, "scan", true, "ingest files already present at startup")
	return cmd
}
