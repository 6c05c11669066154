package media

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

const (
	// imageMaxSide is the maximum pixels per side before resize.
	imageMaxSide = 1200

	// imageMaxBytes is the max encoded size after compression (5MB).
	imageMaxBytes = 5 * 1024 * 1024
)

// jpegQualities is the grid of quality levels to try, highest first.
var jpegQualities = []int{85, 75, 65, 55, 45, 35}

// SanitizeImage re-encodes an image for sending: decode, auto-orient,
// shrink to imageMaxSide, then JPEG-encode stepping down quality until the
// result fits imageMaxBytes. Input that does not decode as an image is
// returned unchanged with its original content type.
func SanitizeImage(data []byte, contentType string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, contentType, nil
	}

	bounds := img.Bounds()
	if w, h := bounds.Dx(), bounds.Dy(); w > imageMaxSide || h > imageMaxSide {
		img = imaging.Fit(img, imageMaxSide, imageMaxSide, imaging.Lanczos)
	}

	for _, quality := range jpegQualities {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg (q=%d): %w", quality, err)
		}
		if buf.Len() <= imageMaxBytes {
			return buf.Bytes(), "image/jpeg", nil
		}
	}
	return nil, "", fmt.Errorf("image does not fit %d bytes at any quality", imageMaxBytes)
}
