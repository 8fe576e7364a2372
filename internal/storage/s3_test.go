package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeClient implements Client with pluggable behavior per operation.
type fakeClient struct {
	getFn  func(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
	putFn  func(*s3.PutObjectInput) (*s3.PutObjectOutput, error)
	listFn func(*s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
	copyFn func(*s3.CopyObjectInput) (*s3.CopyObjectOutput, error)
}

func (f *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getFn(in)
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return f.putFn(in)
}

func (f *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return f.listFn(in)
}

func (f *fakeClient) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	return f.copyFn(in)
}

func body(data string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(data)))
}

func TestFetch(t *testing.T) {
	client := &fakeClient{
		getFn: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			if *in.Bucket != "src" || *in.Key != "a.jpg" {
				t.Errorf("unexpected fetch target %s/%s", *in.Bucket, *in.Key)
			}
			return &s3.GetObjectOutput{
				Body:     body("image-bytes"),
				Metadata: map[string]string{"owner": "alice"},
			}, nil
		},
	}

	data, meta, err := Fetch(context.Background(), client, "src", "a.jpg")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("data = %q, want %q", data, "image-bytes")
	}
	if meta["owner"] != "alice" {
		t.Errorf("metadata not carried: %v", meta)
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name  string
		getFn func(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
	}{
		{
			name: "transport error",
			getFn: func(*s3.GetObjectInput) (*s3.GetObjectOutput, error) {
				return nil, errors.New("connection reset")
			},
		},
		{
			name: "absent body",
			getFn: func(*s3.GetObjectInput) (*s3.GetObjectOutput, error) {
				return &s3.GetObjectOutput{Body: nil}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{getFn: tt.getFn}
			_, _, err := Fetch(context.Background(), client, "src", "a.jpg")
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("err = %v, want *FetchError", err)
			}
			if fetchErr.Bucket != "src" || fetchErr.Key != "a.jpg" {
				t.Errorf("error context = %s/%s, want src/a.jpg", fetchErr.Bucket, fetchErr.Key)
			}
		})
	}
}

func TestStoreSetsCacheDirective(t *testing.T) {
	var captured *s3.PutObjectInput
	client := &fakeClient{
		putFn: func(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			captured = in
			return &s3.PutObjectOutput{}, nil
		},
	}

	meta := map[string]string{"original-size": "100"}
	err := Store(context.Background(), client, "dst", "a.webp", []byte("x"), "image/webp", meta)
	if err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	if aws.ToString(captured.CacheControl) != CacheControlImmutable {
		t.Errorf("CacheControl = %q, want %q", aws.ToString(captured.CacheControl), CacheControlImmutable)
	}
	if aws.ToString(captured.ContentType) != "image/webp" {
		t.Errorf("ContentType = %q, want image/webp", aws.ToString(captured.ContentType))
	}
	if captured.Metadata["original-size"] != "100" {
		t.Errorf("Metadata not passed through: %v", captured.Metadata)
	}
}

func TestStoreError(t *testing.T) {
	client := &fakeClient{
		putFn: func(*s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	err := Store(context.Background(), client, "dst", "a.webp", []byte("x"), "image/webp", nil)
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("err = %v, want *StoreError", err)
	}
}

func TestExistsCollapsesProbeFailures(t *testing.T) {
	tests := []struct {
		name  string
		getFn func(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
		want  bool
	}{
		{
			name: "object present",
			getFn: func(*s3.GetObjectInput) (*s3.GetObjectOutput, error) {
				return &s3.GetObjectOutput{Body: body("data")}, nil
			},
			want: true,
		},
		{
			name: "not found",
			getFn: func(*s3.GetObjectInput) (*s3.GetObjectOutput, error) {
				return nil, errors.New("NoSuchKey")
			},
			want: false,
		},
		{
			name: "transport failure collapses to false",
			getFn: func(*s3.GetObjectInput) (*s3.GetObjectOutput, error) {
				return nil, errors.New("dial tcp: i/o timeout")
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{getFn: tt.getFn}
			got := Exists(context.Background(), client, "dst", "a.webp")
			if got != tt.want {
				t.Errorf("Exists = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListKeysPagination(t *testing.T) {
	pages := [][]string{
		{"a.jpg", "b.png"},
		{"c.webp"},
	}
	calls := 0
	client := &fakeClient{
		listFn: func(in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			if calls == 1 && aws.ToString(in.ContinuationToken) != "page-2" {
				t.Errorf("second call missing continuation token")
			}
			page := pages[calls]
			calls++
			contents := make([]s3types.Object, len(page))
			for i, k := range page {
				contents[i] = s3types.Object{Key: aws.String(k)}
			}
			truncated := calls < len(pages)
			out := &s3.ListObjectsV2Output{
				Contents:    contents,
				IsTruncated: aws.Bool(truncated),
			}
			if truncated {
				out.NextContinuationToken = aws.String("page-2")
			}
			return out, nil
		},
	}

	keys, err := ListKeys(context.Background(), client, "src", "")
	if err != nil {
		t.Fatalf("ListKeys returned error: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3: %v", len(keys), keys)
	}
	if calls != 2 {
		t.Errorf("made %d list calls, want 2", calls)
	}
}

func TestCopyInPlaceReplacesMetadata(t *testing.T) {
	var captured *s3.CopyObjectInput
	client := &fakeClient{
		copyFn: func(in *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
			captured = in
			return &s3.CopyObjectOutput{}, nil
		},
	}

	meta := map[string]string{"batch-trigger": "2026-01-01T00:00:00Z"}
	if err := CopyInPlace(context.Background(), client, "src", "a.jpg", meta); err != nil {
		t.Fatalf("CopyInPlace returned error: %v", err)
	}

	if aws.ToString(captured.CopySource) != "src/a.jpg" {
		t.Errorf("CopySource = %q, want src/a.jpg", aws.ToString(captured.CopySource))
	}
	if captured.MetadataDirective != s3types.MetadataDirectiveReplace {
		t.Errorf("MetadataDirective = %v, want REPLACE", captured.MetadataDirective)
	}
	if captured.Metadata["batch-trigger"] == "" {
		t.Errorf("replacement metadata not set: %v", captured.Metadata)
	}
}

func TestCopyInPlaceEscapesSource(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"photos/a.jpg", "src/photos/a.jpg"},
		{"my photo.jpg", "src/my%20photo.jpg"},
		{"dir/café.png", "src/dir/caf%C3%A9.png"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var captured *s3.CopyObjectInput
			client := &fakeClient{
				copyFn: func(in *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
					captured = in
					return &s3.CopyObjectOutput{}, nil
				},
			}

			if err := CopyInPlace(context.Background(), client, "src", tt.key, nil); err != nil {
				t.Fatalf("CopyInPlace returned error: %v", err)
			}
			if aws.ToString(captured.CopySource) != tt.expected {
				t.Errorf("CopySource = %q, want %q", aws.ToString(captured.CopySource), tt.expected)
			}
			// The target key stays raw; only the copy source is encoded.
			if aws.ToString(captured.Key) != tt.key {
				t.Errorf("Key = %q, want %q", aws.ToString(captured.Key), tt.key)
			}
		})
	}
}
