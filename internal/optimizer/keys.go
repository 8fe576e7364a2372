package optimizer

import (
	"path/filepath"
	"strings"
)

// supportedExtensions is the explicit allow-list of source image extensions.
// Anything else is rejected before any decode attempt.
var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".tiff": true,
	".bmp":  true,
}

// IsSupportedImage reports whether the key's trailing extension is in the
// allow-list. Matching is case-insensitive.
func IsSupportedImage(key string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(key))]
}

// GenerateOptimizedKey derives the destination key for an optimized artifact:
// the original extension is replaced with .webp or .png depending on the
// chosen content type. Any other content type keeps the key unchanged
// (unreachable given the format-selection rule).
func GenerateOptimizedKey(key, contentType string) string {
	base := strings.TrimSuffix(key, filepath.Ext(key))
	switch contentType {
	case ContentTypeWebP:
		return base + ".webp"
	case ContentTypePNG:
		return base + ".png"
	}
	return key
}

// OptimizedKeyVariants returns both derived keys a source key could map to.
// The batch skip-existing probe checks both, since the chosen format is not
// known without decoding the source.
func OptimizedKeyVariants(key string) [2]string {
	base := strings.TrimSuffix(key, filepath.Ext(key))
	return [2]string{base + ".webp", base + ".png"}
}
