package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/ingest"
	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/storage"
	"github.com/phobologic/apdev/internal/toon"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		sync        bool
		watch       bool
		noSummarize bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [DIR]",
		Short: "Add Python functions to the embedding index",
		Long: `Ingest splits every Python file under DIR (default: current directory) into
module-level functions, summarizes each with the model unless --no-summarize
is given, and stores them in the embedding index keyed by import path.

With --sync the files are taken from the storage prefix configured as
ingest.prefix instead of DIR: the index and the pending files are downloaded,
ingested, the index is uploaded again and the ingested files are deleted.

With --watch files under DIR are re-ingested as they change until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sync && watch {
				return errors.New("--sync and --watch cannot be combined")
			}
			if sync && len(args) > 0 {
				return errors.New("--sync takes no DIR")
			}
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			opts := ingest.Options{
				Summarize:   a.cfg.Ingest.Summarize && !noSummarize,
				Concurrency: a.cfg.Ingest.Concurrency,
				StripPrefix: a.cfg.Ingest.StripPrefix,
			}
			switch {
			case sync:
				return a.ingestSync(cmd.Context(), opts)
			case watch:
				return a.ingestWatch(cmd.Context(), root, opts)
			default:
				return a.ingestDir(cmd.Context(), root, opts)
			}
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "ingest pending files from object storage")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-ingest files as they change")
	cmd.Flags().BoolVar(&noSummarize, "no-summarize", false, "embed function code instead of model summaries")
	return cmd
}

// newAgent opens the index and builds an agent. The returned close
// function releases the index and the model client.
func (a *app) newAgent(ctx context.Context, opts ingest.Options) (*ingest.Agent, func(), error) {
	idx, err := a.openIndex(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{idx.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	var client llm.Client
	if opts.Summarize {
		client, err = llm.New(ctx, a.cfg.LLM, a.logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, client.Close)
	}
	store, err := a.promptStore()
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	agent, err := ingest.NewAgent(idx, client, store, opts, a.logger)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return agent, closeAll, nil
}

func (a *app) ingestDir(ctx context.Context, root string, opts ingest.Options) error {
	if err := requireDir(root); err != nil {
		return err
	}
	agent, closeAll, err := a.newAgent(ctx, opts)
	if err != nil {
		return err
	}
	defer closeAll()

	report, err := agent.Ingest(ctx, root)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.stdout, toon.EncodeIngest(report))
	return nil
}

func (a *app) ingestWatch(ctx context.Context, root string, opts ingest.Options) error {
	if err := requireDir(root); err != nil {
		return err
	}
	agent, closeAll, err := a.newAgent(ctx, opts)
	if err != nil {
		return err
	}
	defer closeAll()

	report, err := agent.Ingest(ctx, root)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.stdout, toon.EncodeIngest(report))
	return agent.Watch(ctx, root)
}

// ingestSync mirrors the index from storage, ingests the pending prefix,
// uploads the index and deletes the files it ingested. Files that arrive
// while ingesting are left for the next run.
func (a *app) ingestSync(ctx context.Context, opts ingest.Options) error {
	provider, err := storage.New(a.cfg.Storage)
	if err != nil {
		return err
	}

	if err := provider.DownloadDir(ctx, a.cfg.Index.Prefix, a.indexDir()); err != nil {
		return fmt.Errorf("downloading index: %w", err)
	}

	pending, err := provider.List(ctx, a.cfg.Ingest.Prefix)
	if err != nil {
		return fmt.Errorf("listing %s: %w", a.cfg.Ingest.Prefix, err)
	}
	if len(pending) == 0 {
		a.logger.Info("nothing to ingest", zap.String("prefix", a.cfg.Ingest.Prefix))
		return nil
	}

	workDir := a.cfg.Ingest.WorkDir
	if err := os.RemoveAll(workDir); err != nil {
		return err
	}
	if err := provider.DownloadDir(ctx, a.cfg.Ingest.Prefix, workDir); err != nil {
		return fmt.Errorf("downloading %s: %w", a.cfg.Ingest.Prefix, err)
	}
	defer os.RemoveAll(workDir)

	agent, closeAll, err := a.newAgent(ctx, opts)
	if err != nil {
		return err
	}
	report, err := agent.Ingest(ctx, workDir)
	// the index must be closed before its file is uploaded
	closeAll()
	if err != nil {
		return err
	}

	if err := provider.UploadDir(ctx, a.indexDir(), a.cfg.Index.Prefix); err != nil {
		return fmt.Errorf("uploading index: %w", err)
	}
	if err := provider.DeleteFiles(ctx, pending); err != nil {
		return fmt.Errorf("deleting ingested files: %w", err)
	}
	a.logger.Info("synced ingestion",
		zap.Int("files", len(pending)),
		zap.String("prefix", a.cfg.Ingest.Prefix))

	_, _ = fmt.Fprintln(a.stdout, toon.EncodeIngest(report))
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", path)
	}
	return nil
}
