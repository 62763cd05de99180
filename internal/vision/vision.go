// Package vision turns invoice photos into text with Cloud Vision OCR.
package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"
)

// ErrNoResponse is returned when the annotate call yields no response entry.
var ErrNoResponse = errors.New("vision: no response")

// TextDetector extracts the text of a base64 encoded image.
type TextDetector interface {
	DetectText(ctx context.Context, base64Image string) (string, error)
}

// Annotator is the slice of the Vision API used by Client.
type Annotator interface {
	Annotate(ctx context.Context, req *visionapi.BatchAnnotateImagesRequest) (*visionapi.BatchAnnotateImagesResponse, error)
}

type serviceAnnotator struct {
	svc *visionapi.Service
}

func (a serviceAnnotator) Annotate(ctx context.Context, req *visionapi.BatchAnnotateImagesRequest) (*visionapi.BatchAnnotateImagesResponse, error) {
	return a.svc.Images.Annotate(req).Context(ctx).Do()
}

// Client implements TextDetector on the Cloud Vision REST API.
type Client struct {
	annotator Annotator
	log       zerolog.Logger
}

var _ TextDetector = (*Client)(nil)

// New creates a Vision client. An empty apiKey uses Application Default
// Credentials.
func New(ctx context.Context, apiKey string, log zerolog.Logger) (*Client, error) {
	var opts []option.ClientOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	svc, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision.New: %w", err)
	}
	return NewWithAnnotator(serviceAnnotator{svc: svc}, log), nil
}

// NewWithAnnotator wraps a custom annotator.
func NewWithAnnotator(a Annotator, log zerolog.Logger) *Client {
	return &Client{annotator: a, log: log}
}

// DetectText runs TEXT_DETECTION and returns the words in reading order.
func (c *Client) DetectText(ctx context.Context, base64Image string) (string, error) {
	req := &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image:    &visionapi.Image{Content: base64Image},
			Features: []*visionapi.Feature{{Type: "TEXT_DETECTION"}},
		}},
	}

	resp, err := c.annotator.Annotate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("Client.DetectText: annotate: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", ErrNoResponse
	}
	first := resp.Responses[0]
	if first.Error != nil && first.Error.Code != 0 {
		return "", fmt.Errorf("Client.DetectText: vision error %d: %s", first.Error.Code, first.Error.Message)
	}

	text := ReadingOrder(toWords(first.TextAnnotations))
	c.log.Debug().Int("annotations", len(first.TextAnnotations)).Int("chars", len(text)).Msg("Detected text")
	return text, nil
}

func toWords(annotations []*visionapi.EntityAnnotation) []Word {
	words := make([]Word, 0, len(annotations))
	for _, a := range annotations {
		if a == nil {
			continue
		}
		w := Word{Text: a.Description}
		if a.BoundingPoly != nil && len(a.BoundingPoly.Vertices) > 0 && a.BoundingPoly.Vertices[0] != nil {
			w.X = a.BoundingPoly.Vertices[0].X
			w.Y = a.BoundingPoly.Vertices[0].Y
		}
		words = append(words, w)
	}
	return words
}
