package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

const uploadTimeout = 2 * time.Minute

// GCSStore is an ObjectStore on Google Cloud Storage. It assumes Application
// Default Credentials are configured.
type GCSStore struct {
	client *storage.Client
	log    zerolog.Logger
	now    func() time.Time
}

var _ ObjectStore = (*GCSStore)(nil)

// NewGCSStore creates a storage client.
func NewGCSStore(ctx context.Context, log zerolog.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client, log: log, now: time.Now}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Upload implements ObjectStore.
func (s *GCSStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("GCSStore.Upload: write %s/%s: %w", bucket, path, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("GCSStore.Upload: finalize %s/%s: %w", bucket, path, err)
	}

	s.log.Debug().
		Str("bucket", bucket).
		Str("object", path).
		Int("bytes", len(data)).
		Msg("Uploaded object")

	return bucket + "/" + path, nil
}

// PresignGet implements ObjectStore.
func (s *GCSStore) PresignGet(ctx context.Context, storedPath string) (string, error) {
	bucket, object, err := SplitStoredPath(storedPath)
	if err != nil {
		return "", fmt.Errorf("GCSStore.PresignGet: %w", err)
	}

	url, err := s.client.Bucket(bucket).SignedURL(object, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: s.now().Add(PresignExpiry),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("GCSStore.PresignGet: sign %s: %w", storedPath, err)
	}
	return url, nil
}

// Fetch implements ObjectStore.
func (s *GCSStore) Fetch(ctx context.Context, storedPath string) ([]byte, error) {
	bucket, object, err := SplitStoredPath(storedPath)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Fetch: %w", err)
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("GCSStore.Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Fetch: reading bytes: %w", err)
	}
	return data, nil
}
