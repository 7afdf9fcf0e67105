package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/ingest/backend/internal/util"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjects struct {
	mu          sync.Mutex
	objects     map[string][]byte
	types       map[string]string
	failPuts    int
	getCalls    atomic.Int32
	putAttempts int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putAttempts++
	if f.failPuts > 0 {
		f.failPuts--
		return nil, errors.New("slow down")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = b
	f.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func testBucket(api objectAPI) *Bucket {
	b := newBucket(api, Config{Bucket: "uploads"})
	b.retry = util.Backoff{Tries: 3}
	return b
}

func TestPutFetchDelete(t *testing.T) {
	api := newFakeObjects()
	b := testBucket(api)
	ctx := context.Background()

	if err := b.Put(ctx, "anonymous/abc_paper.pdf", []byte("# Notes")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ct := api.types["anonymous/abc_paper.pdf"]; ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}

	got, err := b.Fetch(ctx, "anonymous/abc_paper.pdf")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if string(got) != "# Notes" {
		t.Fatalf("unexpected content %q", got)
	}

	if err := b.Delete(ctx, "anonymous/abc_paper.pdf"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := b.Fetch(ctx, "anonymous/abc_paper.pdf"); !errors.Is(err, ingest.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFetchMissingIsNotRetried(t *testing.T) {
	api := newFakeObjects()
	b := testBucket(api)

	_, err := b.Fetch(context.Background(), "missing")
	if !errors.Is(err, ingest.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := api.getCalls.Load(); n != 1 {
		t.Fatalf("expected 1 get call, got %d", n)
	}
}

func TestPutRetries(t *testing.T) {
	api := newFakeObjects()
	api.failPuts = 2
	b := testBucket(api)

	if err := b.Put(context.Background(), "u/x_a.bin", []byte{1, 2}); err != nil {
		t.Fatalf("expected put to succeed after retries, got %v", err)
	}
	if api.putAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", api.putAttempts)
	}
	if api.types["u/x_a.bin"] != "application/octet-stream" {
		t.Fatalf("expected octet-stream fallback, got %q", api.types["u/x_a.bin"])
	}
}

func TestDownloadLinkNeedsClient(t *testing.T) {
	b := testBucket(newFakeObjects())
	if _, err := b.DownloadLink(context.Background(), "k", 0); err == nil {
		t.Fatalf("expected error without s3 client")
	}
}
