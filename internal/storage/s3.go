package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Provider stores objects in an S3-compatible bucket.
type S3Provider struct {
	client *minio.Client
	bucket string
}

// NewS3Provider returns a provider for cfg.Bucket. Without static keys the
// AWS environment and instance credentials are used.
func NewS3Provider(cfg Config) (*S3Provider, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Provider{client: client, bucket: bucket}, nil
}

// DownloadDir implements Provider.
func (p *S3Provider) DownloadDir(ctx context.Context, prefix, dest string) error {
	keys, err := p.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue
		}
		target, err := localPath(dest, prefix, key)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := p.client.FGetObject(ctx, p.bucket, key, target, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("downloading s3://%s/%s: %w", p.bucket, key, err)
		}
	}
	return nil
}

// UploadDir implements Provider.
func (p *S3Provider) UploadDir(ctx context.Context, src, prefix string) error {
	files, err := localFiles(src)
	if err != nil {
		return err
	}
	for _, rel := range files {
		key := dirPrefix(prefix) + rel
		_, err := p.client.FPutObject(ctx, p.bucket, key, filepath.Join(src, filepath.FromSlash(rel)),
			minio.PutObjectOptions{ContentType: "application/octet-stream"})
		if err != nil {
			return fmt.Errorf("uploading s3://%s/%s: %w", p.bucket, key, err)
		}
	}
	return nil
}

// DeletePrefix implements Provider.
func (p *S3Provider) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := p.List(ctx, prefix)
	if err != nil {
		return err
	}
	return p.DeleteFiles(ctx, keys)
}

// DeleteFiles implements Provider.
func (p *S3Provider) DeleteFiles(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("deleting s3://%s/%s: %w", p.bucket, key, err)
		}
	}
	return nil
}

// List implements Provider.
func (p *S3Provider) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    dirPrefix(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
