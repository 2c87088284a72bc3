package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/artifact"
	"github.com/phobologic/apdev/internal/index"
	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/pipeline"
	"github.com/phobologic/apdev/internal/toon"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		g       model.Guideline
		topK    int
		out     string
		noStore bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a function from a guideline",
		Long: `Generate runs the full pipeline for one guideline and prints a TOON report of
the run. The merged source is written to --out, or printed after the report.
The result is stored in the artifact database keyed by name and timestamp.`,
		Example: `  apdev generate --name assert_pod_healthy \
    --purpose "Check that every pod in a namespace is running" \
    --service eks --out assert_pod_healthy.py`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("top-k") {
				topK = a.cfg.Generation.TopK
			}
			return a.generate(cmd.Context(), g, topK, out, !noStore)
		},
	}
	cmd.Flags().StringVar(&g.Name, "name", "", "function name (a Python identifier)")
	cmd.Flags().StringVar(&g.Purpose, "purpose", "", "what the function should do")
	cmd.Flags().StringSliceVar(&g.Services, "service", nil, "AWS service the function uses (repeatable)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "reuse candidates to request from the index (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the merged source to this file")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not persist the result")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("purpose")
	return cmd
}

func (a *app) generate(ctx context.Context, g model.Guideline, topK int, out string, persist bool) error {
	if err := g.Validate(); err != nil {
		return err
	}
	params := model.GenerationParams{Guideline: g, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}

	if a.cfg.Generation.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Generation.Timeout)
		defer cancel()
	}

	client, err := llm.New(ctx, a.cfg.LLM, a.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := a.promptStore()
	if err != nil {
		return err
	}
	merger, err := a.merger()
	if err != nil {
		return err
	}

	var searcher index.Searcher
	idx, err := a.openIndex(ctx, true)
	if err != nil {
		return err
	}
	if idx != nil {
		defer idx.Close()
		searcher = idx
	} else {
		a.logger.Info("no index found, planning without reuse", zap.String("path", a.cfg.Index.Path))
	}

	dev := pipeline.NewDeveloper(client, store, searcher,
		pipeline.WithLogger(a.logger),
		pipeline.WithTopK(topK),
		pipeline.WithMerger(merger))
	res, err := dev.Run(ctx, g)
	if err != nil {
		return err
	}

	if out != "" {
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(out, []byte(res.Combined.FunctionCode), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
	}

	if persist {
		artifacts, err := artifact.Open(ctx, a.cfg.Artifacts)
		if err != nil {
			return err
		}
		defer artifacts.Close()
		if err := artifacts.Put(ctx, artifact.NewRecord(params, res.Combined, res.Degraded, res.RunID)); err != nil {
			return &pipeline.CollaboratorError{Op: "store artifact", Err: err}
		}
	}

	_, _ = fmt.Fprintln(a.stdout, toon.EncodeRun(params, res))
	if out == "" {
		_, _ = fmt.Fprintf(a.stdout, "\n%s", res.Combined.FunctionCode)
	}
	return nil
}
