// Package storage re-hosts message assets in blob storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"agency-crm-backend/pkg/config"

	"github.com/google/uuid"
)

// Uploader stores bytes and returns a publicly reachable URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, desiredName, mimeType string) (string, error)
}

// Store is an Uploader owning a client that must be released on shutdown.
type Store interface {
	Uploader
	io.Closer
}

var (
	_ Store = (*GCSUploader)(nil)
	_ Store = (*S3Uploader)(nil)
)

// New builds the uploader selected by BLOB_BACKEND.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.BlobBackend {
	case "gcs":
		return NewGCSUploader(ctx, cfg.GCSBucket, cfg.BlobPublicBaseURL, cfg.GoogleCredentials)
	case "s3":
		return NewS3Uploader(ctx, cfg.S3Bucket, cfg.S3Region, cfg.BlobPublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ObjectKey builds a unique, date-partitioned key that keeps the desired name readable.
func ObjectKey(desiredName string, now time.Time) string {
	name := unsafeName.ReplaceAllString(path.Base(strings.TrimSpace(desiredName)), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "asset"
	}
	if len(name) > 80 {
		name = name[len(name)-80:]
	}
	return fmt.Sprintf("email-assets/%s/%s-%s", now.UTC().Format("2006/01/02"), uuid.New().String(), name)
}

func publicURL(base, fallbackBase, key string) string {
	if base == "" {
		base = fallbackBase
	}
	return strings.TrimRight(base, "/") + "/" + key
}
