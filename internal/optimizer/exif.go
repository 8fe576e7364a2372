package optimizer

import (
	"bytes"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
)

// ExifTags extracts a small set of EXIF-derived metadata tags (camera make
// and model, capture date) from the source image bytes. Best-effort: images
// without EXIF, or formats imagemeta cannot parse, yield nil. Never fails.
func ExifTags(data []byte) map[string]string {
	exif, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	tags := make(map[string]string)
	if mk := strings.TrimSpace(exif.Make); mk != "" {
		tags["camera-make"] = mk
	}
	if model := strings.TrimSpace(exif.Model); model != "" {
		tags["camera-model"] = model
	}
	if dt := exif.DateTimeOriginal(); !dt.IsZero() {
		tags["date-taken"] = dt.UTC().Format(time.RFC3339)
	}

	if len(tags) == 0 {
		return nil
	}
	return tags
}
