// Package storage moves directories between the local filesystem and a
// bucket-like object store.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Provider is an object store addressed by slash-separated keys.
type Provider interface {
	// DownloadDir copies every object under prefix into dest, keeping the
	// key layout below prefix.
	DownloadDir(ctx context.Context, prefix, dest string) error
	// UploadDir copies every regular file under src to prefix.
	UploadDir(ctx context.Context, src, prefix string) error
	// DeletePrefix removes every object under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// DeleteFiles removes the given keys.
	DeleteFiles(ctx context.Context, keys []string) error
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string `yaml:"provider"` // s3 or local
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Root is the directory used as the bucket by the local provider.
	Root string `yaml:"root"`
}

// DefaultConfig uses a local directory.
func DefaultConfig() Config {
	return Config{Provider: "local", Root: ".apdev/bucket", Endpoint: "s3.amazonaws.com", UseSSL: true}
}

// New returns the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "s3":
		p, err := NewS3Provider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "", "local":
		return NewLocalProvider(cfg.Root), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

func dirPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// localFiles returns the regular files under root as slash-separated paths
// relative to root.
func localFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

// localPath maps a key below prefix onto dest, refusing keys that escape it.
func localPath(dest, prefix, key string) (string, error) {
	rel := strings.TrimPrefix(key, dirPrefix(prefix))
	clean := path.Clean("/" + rel)
	if clean == "/" {
		return "", fmt.Errorf("key %q has no name below %q", key, prefix)
	}
	return filepath.Join(dest, filepath.FromSlash(clean[1:])), nil
}
