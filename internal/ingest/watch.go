package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/lang"
)

// DebounceWindow is how long a file must stay quiet before it is
// re-ingested.
const DebounceWindow = 500 * time.Millisecond

// Watch re-ingests Python files under root when they are created or
// written and drops the entries of removed files. It returns nil once ctx
// is done.
func (a *Agent) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, root); err != nil {
		return err
	}
	a.logger.Info("watching for changes", zap.String("root", root))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			a.handleEvent(ctx, watcher, root, event, pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", zap.Error(err))

		case <-ticker.C:
			var ready []string
			now := time.Now()
			for rel, at := range pending {
				if now.Sub(at) >= DebounceWindow {
					ready = append(ready, rel)
					delete(pending, rel)
				}
			}
			if len(ready) == 0 {
				continue
			}
			if _, err := a.IngestFiles(ctx, root, ready); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Error("re-ingesting changed files", zap.Strings("files", ready), zap.Error(err))
			}
		}
	}
}

func (a *Agent) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, root string, event fsnotify.Event, pending map[string]time.Time) {
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if event.Has(fsnotify.Create) && isDir(event.Name) {
			if err := addTree(watcher, event.Name); err != nil {
				a.logger.Warn("watching new directory", zap.String("dir", rel), zap.Error(err))
			}
			return
		}
		if lang.ForExtension(filepath.Ext(rel)) == "python" {
			pending[rel] = time.Now()
		}

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if lang.ForExtension(filepath.Ext(rel)) != "python" {
			return
		}
		delete(pending, rel)
		n, err := a.indexer.DeleteFile(ctx, rel)
		if err != nil {
			a.logger.Error("dropping removed file", zap.String("file", rel), zap.Error(err))
			return
		}
		a.logger.Info("dropped removed file", zap.String("file", rel), zap.Int64("functions", n))
	}
}

// addTree watches dir and its subdirectories, skipping hidden ones.
func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && (strings.HasPrefix(d.Name(), ".") || d.Name() == "__pycache__") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
