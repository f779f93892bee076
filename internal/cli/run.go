package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
)

func newRunCmd(e *env) *cobra.Command {
	var (
		model  string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "run <stage> <document>",
		Short: "Run one stage for one document",
		Long: `Run one pipeline stage for a document and print the result envelope.

Examples:
  enricher run register ACME-100
  enricher run seo ACME-100 --param language=Spanish
  enricher run narrative ACME-100 --model gpt-4o`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			exec, err := e.app.Executor()
			if err != nil {
				return err
			}
			res, runErr := exec.Run(cmd.Context(), args[0], pipeline.Request{
				Document: args[1],
				Model:    model,
				Params:   p,
			})
			b, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			e.printf("%s\n", b)
			if runErr != nil {
				return fmt.Errorf("stage %s failed: %w", args[0], runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model override for this run")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "template parameter as key=value (repeatable)")
	return cmd
}

func parseParams(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q (expected key=value)", kv)
		}
		out[k] = v
	}
	return out, nil
}
