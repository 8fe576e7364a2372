// Package main provides the Lambda entry point for event-driven image
// optimization.
//
// The Lambda is triggered by S3 ObjectCreated events on the source bucket.
// For each uploaded image it downloads the object, re-encodes it to a
// smaller web-optimized form (WebP, or PNG when transparency must be
// preserved), and stores the result in the optimized bucket with derived
// metadata and a long-lived cache directive.
//
// The handler performs no retries of its own: failed records surface as an
// invocation error and the platform's redelivery re-attempts the event.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-image-optimizer/internal/handler"
	"github.com/fpang/s3-image-optimizer/internal/logging"
	"github.com/fpang/s3-image-optimizer/internal/optimizer"
)

// defaultRegion is used when the environment does not provide AWS_REGION.
const defaultRegion = "us-east-1"

var coldStart = true

// Initialized at cold start.
var h *handler.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	var optFns []func(*awsconfig.LoadOptions) error
	if os.Getenv("AWS_REGION") == "" {
		optFns = append(optFns, awsconfig.WithRegion(defaultRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")

	optimizedBucket := os.Getenv("OPTIMIZED_BUCKET_NAME")
	if optimizedBucket == "" {
		log.Fatal().Msg("OPTIMIZED_BUCKET_NAME environment variable is required")
	}

	h = handler.New(s3.NewFromConfig(cfg), optimizedBucket)

	// Emit consolidated cold-start log for troubleshooting.
	logging.NewStartupLogger("optimize-lambda").
		InitDuration(time.Since(initStart)).
		S3Bucket("optimizedBucket", optimizedBucket).
		Config("region", cfg.Region).
		Config("maxWidth", strconv.Itoa(optimizer.MaxWidth)).
		Log()
}

func handle(ctx context.Context, event events.S3Event) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "optimize-lambda").Msg("Cold start — first invocation")
	}
	return h.HandleEvent(ctx, event)
}

func main() {
	lambda.Start(handle)
}
