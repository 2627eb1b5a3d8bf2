// Package imaging shrinks photographed documents before they are sent to the
// extraction model.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
)

const (
	DefaultMaxWidth = 1024
	DefaultQuality  = 80
)

// ShouldOptimize reports whether a file of this MIME type is re-encoded.
// PDFs and anything that is not an image pass through untouched.
func ShouldOptimize(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

// Optimize decodes a JPEG or PNG, flattens transparency onto white, scales
// it down to maxWidth keeping the aspect ratio and re-encodes it as JPEG.
// Images already narrower than maxWidth are only re-encoded.
func Optimize(data []byte, maxWidth, quality int) ([]byte, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("Optimize: decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxWidth {
		height = height * maxWidth / width
		if height < 1 {
			height = 1
		}
		width = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("Optimize: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Prepare optimises images and returns the bytes and MIME type to send on.
// A failed optimisation falls back to the original bytes.
func Prepare(data []byte, mimeType string, maxWidth, quality int) ([]byte, string) {
	if !ShouldOptimize(mimeType) {
		return data, mimeType
	}
	out, err := Optimize(data, maxWidth, quality)
	if err != nil {
		return data, mimeType
	}
	return out, "image/jpeg"
}
