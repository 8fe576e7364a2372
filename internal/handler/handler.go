// Package handler processes S3 ObjectCreated notifications: download the new
// image, apply the optimizer policy, and store the artifact in the optimized
// bucket.
//
// The handler performs zero retries. Any per-record failure is logged and
// re-raised to the Lambda runtime, whose at-least-once redelivery is the
// sole recovery mechanism.
package handler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-image-optimizer/internal/metrics"
	"github.com/fpang/s3-image-optimizer/internal/optimizer"
	"github.com/fpang/s3-image-optimizer/internal/storage"
)

// Handler optimizes images named by S3 event records.
type Handler struct {
	client          storage.Client
	optimizedBucket string
}

// New creates a Handler writing artifacts to optimizedBucket.
func New(client storage.Client, optimizedBucket string) *Handler {
	return &Handler{client: client, optimizedBucket: optimizedBucket}
}

// HandleEvent processes all records of one invocation concurrently. Records
// are independent: one failure never prevents the others from completing.
// The invocation fails (with the last error observed) only after every
// record has been attempted, so the platform redelivers the whole event.
func (h *Handler) HandleEvent(ctx context.Context, event events.S3Event) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var lastErr error

	for _, record := range event.Records {
		wg.Add(1)
		go func(rec events.S3EventRecord) {
			defer wg.Done()
			if err := h.ProcessRecord(ctx, rec); err != nil {
				log.Error().Err(err).Str("key", rec.S3.Object.Key).Msg("Failed to process record")
				mu.Lock()
				lastErr = err
				mu.Unlock()
			}
		}(record)
	}
	wg.Wait()

	return lastErr
}

// ProcessRecord optimizes the single object named by one event record.
// Unsupported extensions and records whose source bucket is the optimized
// bucket itself are skipped silently — the latter guards against
// self-triggering loops when the batch backfill copies objects in place.
func (h *Handler) ProcessRecord(ctx context.Context, record events.S3EventRecord) error {
	start := time.Now()
	sourceBucket := record.S3.Bucket.Name

	key, err := DecodeKey(record.S3.Object.Key)
	if err != nil {
		return err
	}

	logger := log.With().Str("bucket", sourceBucket).Str("key", key).Logger()

	if !optimizer.IsSupportedImage(key) {
		logger.Warn().Msg("Unsupported file extension — skipping")
		return nil
	}
	if sourceBucket == h.optimizedBucket {
		logger.Debug().Msg("Source bucket is the optimized bucket — skipping")
		return nil
	}

	data, sourceMeta, err := storage.Fetch(ctx, h.client, sourceBucket, key)
	if err != nil {
		return err
	}

	// EXIF enrichment is best-effort; explicit source metadata wins.
	meta := optimizer.ExifTags(data)
	for k, v := range sourceMeta {
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[k] = v
	}

	result, err := optimizer.Optimize(data, key)
	if err != nil {
		return err
	}

	err = storage.Store(ctx, h.client, h.optimizedBucket, result.Key, result.Data,
		result.ContentType, result.ArtifactMetadata(meta))
	if err != nil {
		return err
	}

	logger.Info().
		Str("optimizedKey", result.Key).
		Str("contentType", result.ContentType).
		Int("originalSize", result.OriginalSize).
		Int("optimizedSize", result.OptimizedSize).
		Str("compressionRatio", result.CompressionRatio()).
		Dur("duration", time.Since(start)).
		Msg("Image optimized")

	metrics.New("S3ImageOptimizer").
		Dimension("ContentType", result.ContentType).
		Metric("OriginalBytes", float64(result.OriginalSize), metrics.UnitBytes).
		Metric("OptimizedBytes", float64(result.OptimizedSize), metrics.UnitBytes).
		Metric("ReductionPercent", result.ReductionPercent(), metrics.UnitPercent).
		Metric("DurationMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Property("key", key).
		Property("optimizedKey", result.Key).
		Flush()

	return nil
}

// DecodeKey URL-decodes an event record's object key. S3 percent-encodes
// keys in notifications, with a literal '+' standing for a space.
func DecodeKey(raw string) (string, error) {
	return url.QueryUnescape(raw)
}
