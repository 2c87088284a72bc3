// apdev generates Python functions from natural-language guidelines, reusing
// previously ingested functions found by semantic search.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/config"
	"github.com/phobologic/apdev/internal/embedding"
	"github.com/phobologic/apdev/internal/index"
	"github.com/phobologic/apdev/internal/logging"
	"github.com/phobologic/apdev/internal/merge"
	"github.com/phobologic/apdev/internal/prompt"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := runContext(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	return runContext(context.Background(), args, stdout, stderr)
}

func runContext(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(&app{stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	stdout, stderr io.Writer

	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "apdev",
		Short: "Generate Python functions from guidelines",
		Long: `apdev turns a function guideline (name, purpose, services) into one merged
Python source file. It plans the function, looks for reusable functions in
the embedding index, generates and reviews each missing subfunction, combines
them and merges the result into a single deduplicated module.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetVersionTemplate("apdev {{.Version}}\n")
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newGenerateCmd(a),
		newIngestCmd(a),
		newMergeCmd(a),
		newShowCmd(a),
		newInitCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewWriter(cfg.Logging, a.stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(a.stdout, "apdev %s\n", version)
			return nil
		},
	}
}

func (a *app) promptStore() (*prompt.Store, error) {
	return prompt.LoadStore(a.cfg.Prompts.Path)
}

func (a *app) merger() (*merge.Merger, error) {
	f, err := merge.NewFormatter(a.cfg.Format.Kind, a.cfg.Format.Command, a.cfg.Format.Timeout)
	if err != nil {
		return nil, err
	}
	return merge.New(merge.WithFormatter(f), merge.WithLogger(a.logger)), nil
}

// openIndex opens the configured index. With mustExist set and no index
// file present it returns nil and no error.
func (a *app) openIndex(ctx context.Context, mustExist bool) (*index.SQLiteIndex, error) {
	path := a.cfg.Index.Path
	if mustExist {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	engine, err := embedding.NewEngine(ctx, a.cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding engine: %w", err)
	}
	idx, err := index.Open(path, engine,
		index.WithLogger(a.logger),
		index.WithCacheSize(a.cfg.Index.CacheSize))
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (a *app) indexDir() string {
	return filepath.Dir(a.cfg.Index.Path)
}
