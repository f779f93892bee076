// Command llm runs one stage repeatedly for the same document and reports
// how many distinct outputs the provider produced.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joseph-ayodele/doc-enricher/internal/app"
	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 3 {
		logger.Error("usage: llm <stage> <document> [times]")
		os.Exit(2)
	}
	stage, document := os.Args[1], os.Args[2]
	times := 5
	if len(os.Args) >= 4 {
		if n, err := strconv.Atoi(os.Args[3]); err == nil && n > 0 {
			times = n
		}
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	exec, err := a.Executor()
	if err != nil {
		logger.Error("executor", "error", err)
		os.Exit(1)
	}
	st, err := exec.Definition().Lookup(stage)
	if err != nil {
		logger.Error("unknown stage", "stage", stage, "error", err)
		os.Exit(2)
	}

	outputs := map[string]int{}
	failures := 0
	for i := 1; i <= times; i++ {
		runCtx, cancelRun := context.WithTimeout(ctx, cfg.Pipeline.PollBudget()+cfg.LLM.Timeout*4)
		start := time.Now()
		logger.Info("pipeline.run.start", "iter", i, "document", document, "stage", st.ID)

		_, err := exec.Run(runCtx, st.ID, pipeline.Request{Document: document})
		cancelRun()
		if err != nil {
			failures++
			logger.Error("pipeline.run.error", "iter", i, "kind", common.KindOf(err), "err", err)
			continue
		}

		b, err := a.Store.Get(ctx, document, artifact.KeyOf(st.Produces))
		if err != nil {
			logger.Error("read output", "iter", i, "err", err)
			continue
		}
		sum := sha256.Sum256(b)
		outputs[hex.EncodeToString(sum[:8])]++
		logger.Info("pipeline.run.ok", "iter", i, "elapsed_ms", time.Since(start).Milliseconds())

		time.Sleep(750 * time.Millisecond)
	}

	logger.Info("done", "document", document, "stage", st.ID, "times", times,
		"failures", failures, "distinct_outputs", len(outputs), "histogram", outputs)
}
