package vision

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// MaxOCRDimension bounds the longest side of an image sent for OCR.
const MaxOCRDimension = 2048

// Prepare shrinks images whose longest side exceeds MaxOCRDimension and
// re-encodes them as JPEG with EXIF orientation applied. Images already
// within bounds are returned unchanged. ok is false when the data could not be
// decoded, in which case the original bytes are returned.
func Prepare(data []byte) (out []byte, ok bool) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, false
	}

	b := img.Bounds()
	if b.Dx() <= MaxOCRDimension && b.Dy() <= MaxOCRDimension {
		return data, true
	}

	resized, err := encodeJPEG(imaging.Fit(img, MaxOCRDimension, MaxOCRDimension, imaging.Lanczos))
	if err != nil {
		return data, false
	}
	return resized, true
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
