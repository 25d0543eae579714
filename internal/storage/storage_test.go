package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/voice-call-lab/internal/config"
)

type fakeObjects struct {
	put     *s3.PutObjectInput
	body    []byte
	headErr error
	putErr  error
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3UploadPublicMP3(t *testing.T) {
	fake := &fakeObjects{}
	s := &S3Store{client: fake, bucket: "b", region: "us-east-2"}
	url, err := s.Upload(context.Background(), "audio/response_x.mp3", []byte("mp3"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://b.s3.us-east-2.amazonaws.com/audio/response_x.mp3" {
		t.Fatalf("url = %s", url)
	}
	if aws.ToString(fake.put.ContentType) != "audio/mpeg" || fake.put.ACL != types.ObjectCannedACLPublicRead {
		t.Fatalf("unexpected put input: %+v", fake.put)
	}
	if string(fake.body) != "mp3" || aws.ToString(fake.put.Bucket) != "b" {
		t.Fatalf("unexpected body or bucket")
	}
}

func TestS3UploadError(t *testing.T) {
	s := &S3Store{client: &fakeObjects{putErr: errors.New("denied")}, bucket: "b", region: "r"}
	if _, err := s.Upload(context.Background(), "k", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestS3Exists(t *testing.T) {
	s := &S3Store{client: &fakeObjects{}, bucket: "b", region: "r"}
	ok, err := s.Exists(context.Background(), "phrases/greeting_morning.mp3")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}

	s.client = &fakeObjects{headErr: &types.NotFound{}}
	ok, err = s.Exists(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("not found should be (false, nil), got %v, %v", ok, err)
	}

	s.client = &fakeObjects{headErr: errors.New("network down")}
	if _, err := s.Exists(context.Background(), "k"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestS3CustomEndpointURL(t *testing.T) {
	s, err := NewS3Store(config.StorageConfig{Bucket: "b", Region: "eu-west-1", Endpoint: "http://minio:9000/"}, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.URL("a/b.mp3"); got != "http://minio:9000/b/a/b.mp3" {
		t.Fatalf("url = %s", got)
	}
	if _, err := NewS3Store(config.StorageConfig{}, 1); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestDiskStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDiskStore(dir, "https://example.test/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if ok, _ := d.Exists(ctx, "audio/r.mp3"); ok {
		t.Fatalf("should not exist yet")
	}
	url, err := d.Upload(ctx, "audio/r.mp3", []byte("abc"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://example.test/audio/audio/r.mp3" {
		t.Fatalf("url = %s", url)
	}
	if ok, err := d.Exists(ctx, "audio/r.mp3"); !ok || err != nil {
		t.Fatalf("exists = %v, %v", ok, err)
	}

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL + "/audio/audio/r.mp3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "abc" {
		t.Fatalf("served %q", body)
	}

	if _, err := d.Upload(ctx, "../escape.mp3", []byte("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestDiskCleanKeepsPhrases(t *testing.T) {
	dir := t.TempDir()
	d, _ := NewDiskStore(dir, "http://x")
	ctx := context.Background()
	d.Upload(ctx, "audio/old.mp3", []byte("1"))
	d.Upload(ctx, "audio/new.mp3", []byte("2"))
	d.Upload(ctx, "phrases/greeting_morning.mp3", []byte("3"))

	old := time.Now().Add(-48 * time.Hour)
	os.Chtimes(filepath.Join(dir, "audio", "old.mp3"), old, old)
	os.Chtimes(filepath.Join(dir, "phrases", "greeting_morning.mp3"), old, old)

	n, err := d.Clean(24 * time.Hour)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d files, want 1", n)
	}
	if ok, _ := d.Exists(ctx, "audio/old.mp3"); ok {
		t.Fatalf("old reply should be gone")
	}
	if ok, _ := d.Exists(ctx, "audio/new.mp3"); !ok {
		t.Fatalf("new reply should remain")
	}
	if ok, _ := d.Exists(ctx, "phrases/greeting_morning.mp3"); !ok {
		t.Fatalf("phrase should remain")
	}
}

func TestDiskConcurrentUploadSameKey(t *testing.T) {
	dir := t.TempDir()
	d, _ := NewDiskStore(dir, "http://x")
	ctx := context.Background()
	const key = "phrases/greeting_morning.mp3"

	var wg sync.WaitGroup
	errs := make(chan error, 8*50)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := d.Upload(ctx, key, []byte(fmt.Sprintf("writer-%d", g))); err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	failed := 0
	for err := range errs {
		failed++
		t.Logf("upload: %v", err)
	}
	if failed > 0 {
		t.Fatalf("%d of 400 concurrent uploads failed", failed)
	}

	got, err := os.ReadFile(filepath.Join(dir, "phrases", "greeting_morning.mp3"))
	if err != nil || !strings.HasPrefix(string(got), "writer-") {
		t.Fatalf("final content %q, %v", got, err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "phrases", "*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestSaveFileAtomicMode(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "a.mp3")
	if err := SaveFileAtomic(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
}
