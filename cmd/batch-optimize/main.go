// Package main provides the batch-optimize CLI: a one-shot backfill that
// walks an existing bucket and optimizes every image the event-driven
// Lambda never saw. Already-optimized objects are skipped unless --force
// is given; --use-lambda switches to indirect mode, where each object is
// copied onto itself so the bucket notification re-triggers the Lambda.
package main

import (
	"context"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/s3-image-optimizer/internal/batch"
	"github.com/fpang/s3-image-optimizer/internal/logging"
)

// defaultRegion is used when the environment does not provide AWS_REGION.
const defaultRegion = "us-east-1"

// CLI flags
var (
	prefixFlag    string
	forceFlag     bool
	useLambdaFlag bool
	batchSizeFlag int
	delayFlag     int
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "batch-optimize",
	Short: "Backfill image optimization over an existing S3 bucket",
	Long: `Batch Optimize enumerates the source bucket, skips objects that already
have an optimized counterpart, and re-encodes the rest in rate-limited
concurrent batches.

Buckets and credentials come from the environment (a .env file is loaded
when present): SOURCE_BUCKET_NAME, OPTIMIZED_BUCKET_NAME, and the usual
AWS credential chain.

Examples:
  batch-optimize --prefix photos/2024/
  batch-optimize --force --batch-size 20 --delay 500
  batch-optimize --use-lambda   # let the Lambda do the work via re-trigger`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&prefixFlag, "prefix", "", "Only process keys under this prefix")
	rootCmd.Flags().BoolVar(&forceFlag, "force", false, "Re-process objects even when an optimized copy exists")
	rootCmd.Flags().BoolVar(&useLambdaFlag, "use-lambda", false, "Trigger the optimize Lambda via copy-in-place instead of optimizing locally")
	rootCmd.Flags().IntVar(&batchSizeFlag, "batch-size", batch.DefaultBatchSize, "Number of objects processed concurrently per batch")
	rootCmd.Flags().IntVar(&delayFlag, "delay", 1000, "Pause between batches in milliseconds")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) {
	startupBegin := time.Now()
	logging.Init()

	// Local runs keep bucket names and credentials in a .env file.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}

	sourceBucket := os.Getenv("SOURCE_BUCKET_NAME")
	if sourceBucket == "" {
		log.Fatal().Msg("SOURCE_BUCKET_NAME environment variable is required")
	}
	optimizedBucket := os.Getenv("OPTIMIZED_BUCKET_NAME")
	if optimizedBucket == "" {
		log.Fatal().Msg("OPTIMIZED_BUCKET_NAME environment variable is required")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if os.Getenv("AWS_REGION") == "" {
		optFns = append(optFns, awsconfig.WithRegion(defaultRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}

	logging.NewStartupLogger("batch-optimize").
		InitDuration(time.Since(startupBegin)).
		S3Bucket("sourceBucket", sourceBucket).
		S3Bucket("optimizedBucket", optimizedBucket).
		Feature("skipExisting", !forceFlag).
		Feature("lambdaTrigger", useLambdaFlag).
		Config("region", cfg.Region).
		Config("prefix", prefixFlag).
		Log()

	processor := batch.New(s3.NewFromConfig(cfg), batch.Config{
		SourceBucket:     sourceBucket,
		OptimizedBucket:  optimizedBucket,
		Prefix:           prefixFlag,
		SkipExisting:     !forceFlag,
		UseLambdaTrigger: useLambdaFlag,
		BatchSize:        batchSizeFlag,
		Delay:            time.Duration(delayFlag) * time.Millisecond,
	})

	stats, err := processor.Run(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Batch run failed")
		os.Exit(1)
	}
	if stats.Errors > 0 {
		log.Warn().Int("errors", stats.Errors).Msg("Run finished with per-object failures — see log lines above")
	}
}
