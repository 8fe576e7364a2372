// Package optimizer implements the image re-encoding policy: decode, bound
// the width, and re-encode to a web-optimized format. The policy is a pure
// transform over bytes — no I/O — so the Lambda handler and the batch
// backfill apply exactly the same rules.
package optimizer

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"time"

	_ "image/jpeg" // decoder registration

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // decoder registration
	_ "golang.org/x/image/tiff" // decoder registration
	_ "golang.org/x/image/webp" // decoder registration
)

// Output content types. Every artifact is exactly one of these two.
const (
	ContentTypeWebP = "image/webp"
	ContentTypePNG  = "image/png"
)

const (
	// MaxWidth is the upper bound on output width. Larger images are scaled
	// down proportionally; smaller ones pass through unresized.
	MaxWidth = 800

	// webpQuality matches the thumbnail encoder settings we run in production.
	webpQuality = 80
)

// Result is an optimized artifact derived from one source image.
type Result struct {
	Data        []byte
	ContentType string
	Key         string

	OriginalSize  int
	OptimizedSize int
	Width         int
	Height        int
}

// Optimize decodes data, resizes to at most MaxWidth wide, and re-encodes.
//
// Format selection is transparency-driven, not size-driven: a PNG source
// that actually uses its alpha channel stays PNG (lossless, transparency
// preserved); every other input becomes WebP regardless of original format.
// This is the only place the output format is decided.
func Optimize(data []byte, key string) (*Result, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Key: key, Err: err}
	}

	bounds := img.Bounds()
	origWidth := bounds.Dx()
	origHeight := bounds.Dy()
	alpha := hasAlpha(img)

	img, width, height := resizeToMaxWidth(img, MaxWidth)

	log.Debug().
		Str("key", key).
		Str("format", format).
		Bool("alpha", alpha).
		Int("origWidth", origWidth).
		Int("origHeight", origHeight).
		Int("width", width).
		Int("height", height).
		Msg("Image decoded")

	var buf bytes.Buffer
	contentType := ContentTypeWebP
	if format == "png" && alpha {
		contentType = ContentTypePNG
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, &EncodeError{Key: key, ContentType: contentType, Err: err}
		}
	} else {
		if err := webp.Encode(&buf, img, &webp.Options{Quality: webpQuality}); err != nil {
			return nil, &EncodeError{Key: key, ContentType: contentType, Err: err}
		}
	}

	return &Result{
		Data:          buf.Bytes(),
		ContentType:   contentType,
		Key:           GenerateOptimizedKey(key, contentType),
		OriginalSize:  len(data),
		OptimizedSize: buf.Len(),
		Width:         width,
		Height:        height,
	}, nil
}

// ReductionPercent returns the byte-size reduction as a percentage, or 0
// for an empty input.
func (r *Result) ReductionPercent() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.OriginalSize-r.OptimizedSize) / float64(r.OriginalSize) * 100
}

// CompressionRatio returns the byte-size reduction as a percentage string
// with two decimals, e.g. "63.41%".
func (r *Result) CompressionRatio() string {
	return fmt.Sprintf("%.2f%%", r.ReductionPercent())
}

// ArtifactMetadata builds the object metadata stored with the optimized
// artifact: source metadata carried forward, plus the derived size and
// timestamp fields. Derived fields win on key collision.
func (r *Result) ArtifactMetadata(source map[string]string) map[string]string {
	meta := make(map[string]string, len(source)+4)
	for k, v := range source {
		meta[k] = v
	}
	meta["original-size"] = fmt.Sprintf("%d", r.OriginalSize)
	meta["optimized-size"] = fmt.Sprintf("%d", r.OptimizedSize)
	meta["compression-ratio"] = r.CompressionRatio()
	meta["processed-at"] = time.Now().UTC().Format(time.RFC3339)
	return meta
}

// hasAlpha reports whether the image actually uses its alpha channel.
// All stdlib image types implement Opaque; anything exotic is treated as opaque.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

// resizeToMaxWidth scales the image down so its width is at most maxWidth,
// preserving aspect ratio. Never upscales. Returns the (possibly original)
// image and its dimensions.
func resizeToMaxWidth(img image.Image, maxWidth int) (image.Image, int, int) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxWidth {
		return img, width, height
	}

	newHeight := int(float64(height) * float64(maxWidth) / float64(width))
	if newHeight < 1 {
		newHeight = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized, maxWidth, newHeight
}
