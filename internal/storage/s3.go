// Package storage wraps the S3 operations the optimizer needs behind a
// narrow client interface. The concrete *s3.Client satisfies Client
// directly; tests substitute an in-memory fake.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// CacheControlImmutable is the cache directive set on every optimized
// artifact. Derived keys never change content, so a year of immutable
// caching is safe.
const CacheControlImmutable = "public, max-age=31536000, immutable"

// Client is the subset of the S3 API this project uses.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// FetchError indicates an object could not be read from its source bucket.
type FetchError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StoreError indicates a write to the destination bucket failed.
type StoreError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Fetch downloads an object's full content and metadata mapping.
// A missing or unreadable body is a *FetchError.
func Fetch(ctx context.Context, client Client, bucket, key string) ([]byte, map[string]string, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Fetching object from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, &FetchError{Bucket: bucket, Key: key, Err: err}
	}
	if result.Body == nil {
		return nil, nil, &FetchError{Bucket: bucket, Key: key, Err: fmt.Errorf("empty response body")}
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, nil, &FetchError{Bucket: bucket, Key: key, Err: err}
	}
	return data, result.Metadata, nil
}

// Store writes an artifact to the destination bucket with its content type,
// metadata mapping, and the immutable cache directive.
func Store(ctx context.Context, client Client, bucket, key string, data []byte, contentType string, metadata map[string]string) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		Metadata:     metadata,
		CacheControl: aws.String(CacheControlImmutable),
	})
	if err != nil {
		return &StoreError{Bucket: bucket, Key: key, Err: err}
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Msg("Object stored")
	return nil
}

// Exists probes for an object by attempting a fetch. Any transport or
// not-found error collapses to false; probe failures never propagate.
func Exists(ctx context.Context, client Client, bucket, key string) bool {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false
	}
	if result.Body != nil {
		result.Body.Close()
	}
	return true
}

// ListKeys enumerates all object keys under prefix, following continuation
// tokens until the listing is exhausted.
func ListKeys(ctx context.Context, client Client, bucket, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range result.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if result.IsTruncated == nil || !*result.IsTruncated {
			break
		}
		token = result.NextContinuationToken
	}
	return keys, nil
}

// CopyInPlace issues a same-bucket copy-to-self with replaced metadata.
// The write re-fires the bucket's ObjectCreated notification, so the
// optimize Lambda picks the object up as if it were newly uploaded.
func CopyInPlace(ctx context.Context, client Client, bucket, key string, metadata map[string]string) error {
	// CopyObject requires a URL-encoded copy source; keys with spaces or
	// non-ASCII characters are routine here.
	source := (&url.URL{Path: bucket + "/" + key}).EscapedPath()
	_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(source),
		Metadata:          metadata,
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("copy s3://%s/%s to self: %w", bucket, key, err)
	}
	return nil
}
