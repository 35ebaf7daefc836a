// Package gcs delivers run results as objects in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/campus-crawler/internal/delivery"
)

// BlobStore writes payloads to gs://<bucket>/<prefix>/<domain>/<ts>.json.
type BlobStore struct {
	client *storage.Client
	now    func() time.Time
}

var _ delivery.Sink = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return &BlobStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Send implements delivery.Sink.
func (s *BlobStore) Send(ctx context.Context, target *url.URL, payload delivery.Payload) error {
	bucket := target.Host
	if bucket == "" {
		return fmt.Errorf("gcs target %q has no bucket", target.String())
	}
	body, err := payload.Body()
	if err != nil {
		return err
	}
	name := delivery.ObjectName(target.Path, payload.Domain, s.now().UnixNano())
	if _, err := s.PutObject(ctx, bucket, name, "application/json", bytes.NewReader(body)); err != nil {
		return err
	}
	return nil
}

// PutObject uploads data and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, bucket, path, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, path), nil
}
