// Package blob stores equipment photos on the local filesystem or an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"Gin_postgres_redis_loan_manager/config"
)

var ErrNotFound = errors.New("blob not found")

// Store is the minimal surface the photo endpoints need. Put overwrites.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}

// Open picks the driver named by BLOB_DRIVER.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch strings.ToLower(cfg.BlobDriver) {
	case "", "fs":
		return NewFS(cfg.BlobFSRoot)
	case "s3":
		return NewS3(ctx, S3Config{
			Bucket:    cfg.BlobS3Bucket,
			Region:    cfg.BlobS3Region,
			Endpoint:  cfg.BlobS3Endpoint,
			PathStyle: cfg.BlobS3PathSty,
		})
	default:
		return nil, fmt.Errorf("unsupported BLOB_DRIVER %q", cfg.BlobDriver)
	}
}

// sanitizeKey rejects keys that could escape the store root.
func sanitizeKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.Contains(k, "..") || strings.HasPrefix(k, "/") || strings.Contains(k, `\`) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return k, nil
}
