// Package storage keeps invoice images in an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PresignExpiry is how long a presigned GET URL stays valid.
const PresignExpiry = time.Hour

var (
	// ErrUnsupportedContentType is returned for uploads that are not images.
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrObjectNotFound is returned when a stored object does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectStore uploads objects and hands out temporary read URLs.
type ObjectStore interface {
	// Upload writes data under bucket/path and returns the stored path
	// "bucket/path".
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)

	// PresignGet returns a temporary URL for a stored path of the form
	// "bucket/path".
	PresignGet(ctx context.Context, storedPath string) (string, error)

	// Fetch reads back the bytes of a stored path or a gs:// URI.
	Fetch(ctx context.Context, storedPath string) ([]byte, error)
}

// SVG is left out: it can carry script and is served back from our origin.
var imageExtensions = map[string]string{
	"image/jpeg":  "jpg",
	"image/jpg":   "jpg",
	"image/pjpeg": "jpg",
	"image/png":   "png",
	"image/gif":   "gif",
	"image/webp":  "webp",
	"image/heic":  "heic",
	"image/heif":  "heif",
	"image/bmp":   "bmp",
	"image/tiff":  "tiff",
}

// ExtensionFor maps an image content type to a file extension. Parameters
// such as "; charset=" are ignored.
func ExtensionFor(contentType string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", ErrUnsupportedContentType
	}
	if ext, ok := imageExtensions[ct]; ok {
		return ext, nil
	}
	sub := strings.TrimPrefix(ct, "image/")
	if sub == "" || strings.ContainsAny(sub, "/+. ") {
		return "", ErrUnsupportedContentType
	}
	return sub, nil
}

// ObjectPath is the object name of an uploaded invoice image:
// "{userID}/{id}.{ext}".
func ObjectPath(userID, id, contentType string) (string, error) {
	ext, err := ExtensionFor(contentType)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s.%s", userID, id, ext), nil
}

// SplitStoredPath splits "bucket/object/name" or "gs://bucket/object/name"
// into bucket and object name.
func SplitStoredPath(storedPath string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(storedPath, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid stored path %q", storedPath)
	}
	return parts[0], parts[1], nil
}
