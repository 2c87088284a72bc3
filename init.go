package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/apdev/internal/config"
)

const (
	sentinelStart = "# apdev:start"
	sentinelEnd   = "# apdev:end"
)

func newInitCmd(a *app) *cobra.Command {
	var (
		dryRun    bool
		force     bool
		gitignore string
	)
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a default config file",
		Long: `Init writes the default configuration to PATH (default: .apdev/config.yaml)
and adds apdev's local state to .gitignore. The .gitignore entries are
wrapped in sentinel comments so they can be updated in place on later runs
without touching surrounding content.

An existing config file is left alone unless --force is given.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath
			if len(args) > 0 {
				path = args[0]
			}
			return a.writeInit(path, gitignore, dryRun, force)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying files")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().StringVar(&gitignore, "gitignore", ".gitignore", "gitignore file to update (empty to skip)")
	return cmd
}

func (a *app) writeInit(path, gitignore string, dryRun, force bool) error {
	cfg := config.DefaultConfig()
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	var ignored string
	if gitignore != "" {
		existing, err := os.ReadFile(gitignore)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", gitignore, err)
		}
		ignored = applySection(string(existing), generateSection(cfg))
	}

	if dryRun {
		_, _ = fmt.Fprintf(a.stdout, "# %s\n%s", path, data)
		if gitignore != "" {
			_, _ = fmt.Fprintf(a.stdout, "\n# %s\n%s", gitignore, ignored)
		}
		return nil
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stderr, "wrote default config to %s\n", path)

	if gitignore != "" {
		if err := os.WriteFile(gitignore, []byte(ignored), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", gitignore, err)
		}
		_, _ = fmt.Fprintf(a.stderr, "updated %s\n", gitignore)
	}
	return nil
}

// generateSection returns the sentinel-wrapped gitignore entries for the
// local state cfg points at.
func generateSection(cfg *config.Config) string {
	entries := []string{
		".env",
		cfg.Index.Path + "*",
		cfg.Ingest.WorkDir + "/",
	}
	if cfg.Artifacts.Driver == "" || cfg.Artifacts.Driver == "sqlite" {
		entries = append(entries, cfg.Artifacts.DSN+"*")
	}
	if cfg.Storage.Provider == "" || cfg.Storage.Provider == "local" {
		entries = append(entries, cfg.Storage.Root+"/")
	}
	return sentinelStart + "\n" + strings.Join(entries, "\n") + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) > 0 {
		content += "\n"
	}
	return content + section + "\n"
}
