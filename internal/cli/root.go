// Package cli provides the command-line interface for the enricher.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-enricher/internal/app"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

// Version is set at build time.
var Version = "0.1.0"

// env is shared by all subcommands of one invocation.
type env struct {
	app      *app.App
	appOpts  []app.Option
	out      io.Writer
	verbose  bool
	closeLog func() error
}

// Execute runs the CLI with os.Args.
func Execute(ctx context.Context) error {
	root, e := newRoot(os.Stdout)
	defer e.close()
	return root.ExecuteContext(ctx)
}

// newRoot builds the command tree. Options are passed to app.New.
func newRoot(out io.Writer, opts ...app.Option) (*cobra.Command, *env) {
	if out == nil {
		out = os.Stdout
	}
	e := &env{out: out, appOpts: opts}

	root := &cobra.Command{
		Use:   "enricher",
		Short: "Enrich product documents with model-generated metadata",
		Long: `Enricher runs a fixed pipeline of stages over product documents.

Each stage reads artifacts of a document from the artifact store, sends an
instruction to the model provider and stores the validated result.

Stages: register, metadata, taxonomy, narrative, seo.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			cfg := common.LoadConfig()
			level := common.ParseLogLevel(cfg.Log.Level)
			if e.verbose {
				level = common.ParseLogLevel("debug")
			}
			logger, closeLog := common.SetupLogger(cfg.Log.File, level)
			e.closeLog = closeLog

			a, err := app.New(cmd.Context(), cfg, logger, e.appOpts...)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			e.app = a
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) { e.close() },
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(e),
		newIngestCmd(e),
		newWatchCmd(e),
		newBatchCmd(e),
		newExportCmd(e),
		newStagesCmd(e),
		newShowCmd(e),
		newRunsCmd(e),
	)
	return root, e
}

// close releases the app and log file. Cobra skips post-run hooks when a
// command fails, so Execute calls it as well.
func (e *env) close() {
	if e.app != nil {
		e.app.Close()
		e.app = nil
	}
	if e.closeLog != nil {
		if err := e.closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
		e.closeLog = nil
	}
}

func (e *env) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e.out, format, args...)
}
