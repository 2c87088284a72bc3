package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalProvider treats a directory as a bucket. Keys map to paths below it.
type LocalProvider struct {
	root string
}

// NewLocalProvider returns a provider rooted at root.
func NewLocalProvider(root string) *LocalProvider {
	return &LocalProvider{root: root}
}

func (p *LocalProvider) keyPath(key string) string {
	return filepath.Join(p.root, filepath.FromSlash(key))
}

// DownloadDir implements Provider.
func (p *LocalProvider) DownloadDir(ctx context.Context, prefix, dest string) error {
	keys, err := p.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		target, err := localPath(dest, prefix, key)
		if err != nil {
			return err
		}
		if err := copyFile(p.keyPath(key), target); err != nil {
			return err
		}
	}
	return nil
}

// UploadDir implements Provider.
func (p *LocalProvider) UploadDir(ctx context.Context, src, prefix string) error {
	files, err := localFiles(src)
	if err != nil {
		return err
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := copyFile(filepath.Join(src, filepath.FromSlash(rel)), p.keyPath(dirPrefix(prefix)+rel)); err != nil {
			return err
		}
	}
	return nil
}

// DeletePrefix implements Provider.
func (p *LocalProvider) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := p.List(ctx, prefix)
	if err != nil {
		return err
	}
	return p.DeleteFiles(ctx, keys)
}

// DeleteFiles implements Provider.
func (p *LocalProvider) DeleteFiles(_ context.Context, keys []string) error {
	for _, key := range keys {
		if err := os.Remove(p.keyPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// List implements Provider.
func (p *LocalProvider) List(_ context.Context, prefix string) ([]string, error) {
	dir := p.keyPath(dirPrefix(prefix))
	files, err := localFiles(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = dirPrefix(prefix) + f
	}
	sort.Strings(keys)
	return keys, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
