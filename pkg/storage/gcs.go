package storage

import (
	"context"
	"fmt"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSUploader struct {
	client  *gcs.Client
	bucket  string
	baseURL string
}

func NewGCSUploader(ctx context.Context, bucket, baseURL, credentialsFile string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, baseURL: baseURL}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, data []byte, desiredName, mimeType string) (string, error) {
	key := ObjectKey(desiredName, time.Now())

	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = mimeType
	w.CacheControl = "public, max-age=31536000"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", key, err)
	}

	return publicURL(u.baseURL, "https://storage.googleapis.com/"+u.bucket, key), nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}
