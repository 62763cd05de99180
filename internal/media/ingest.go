// Package media accepts invoice photos: it reads them with OCR and stores the
// original image at the same time.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/ledger-assistant/internal/storage"
	"github.com/dvloznov/ledger-assistant/internal/vision"
)

var (
	// ErrUnsupportedContentType is returned for anything that is not image/*.
	ErrUnsupportedContentType = storage.ErrUnsupportedContentType
	// ErrEmptyImage is returned when the upload has no bytes.
	ErrEmptyImage = errors.New("empty image")
)

// Uploaded is an ingested image.
type Uploaded struct {
	// Path is the stored path "bucket/{user}/{id}.{ext}".
	Path        string
	ContentType string
	// Content is the OCR text in reading order.
	Content string
}

// Ingestor runs OCR and upload for invoice images.
type Ingestor struct {
	detector vision.TextDetector
	store    storage.ObjectStore
	bucket   string
	log      zerolog.Logger
	newID    func() string
}

// NewIngestor creates an Ingestor that uploads into bucket.
func NewIngestor(detector vision.TextDetector, store storage.ObjectStore, bucket string, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		detector: detector,
		store:    store,
		bucket:   bucket,
		log:      log,
		newID:    uuid.NewString,
	}
}

// Ingest validates the content type, then detects text and uploads the
// original concurrently. Either failure fails the whole ingest.
func (i *Ingestor) Ingest(ctx context.Context, userID string, data []byte, contentType string) (*Uploaded, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return nil, ErrUnsupportedContentType
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	objectPath, err := storage.ObjectPath(userID, i.newID(), contentType)
	if err != nil {
		return nil, err
	}

	var (
		text   string
		stored string
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		prepared, ok := vision.Prepare(data)
		if !ok {
			i.log.Debug().Str("content_type", contentType).Msg("Image not decodable locally, sending original to OCR")
		}
		t, err := i.detector.DetectText(gctx, base64.StdEncoding.EncodeToString(prepared))
		if err != nil {
			return fmt.Errorf("detect text: %w", err)
		}
		text = t
		return nil
	})

	g.Go(func() error {
		p, err := i.store.Upload(gctx, i.bucket, objectPath, data, contentType)
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		stored = p
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Ingestor.Ingest: %w", err)
	}

	i.log.Info().
		Str("user_id", userID).
		Str("path", stored).
		Int("bytes", len(data)).
		Msg("Invoice image ingested")

	return &Uploaded{Path: stored, ContentType: contentType, Content: text}, nil
}
