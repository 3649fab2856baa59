package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/strata-io/strata/internal/objectstore"
)

var (
	testMinioProc    *os.Process
	testMinioPort    = "19000"
	testMinioDir     string
	minioAvailable   bool
	minioSkipMessage string
)

func TestMain(m *testing.M) {
	if err := startMinio(); err != nil {
		minioSkipMessage = fmt.Sprintf("MinIO not available: %v", err)
	} else {
		minioAvailable = true
	}
	code := m.Run()
	stopMinio()
	os.Exit(code)
}

func skipIfMinioUnavailable(t *testing.T) {
	t.Helper()
	if !minioAvailable {
		t.Skip(minioSkipMessage)
	}
}

func startMinio() error {
	minioPath := "/tmp/minio"
	if _, err := os.Stat(minioPath); os.IsNotExist(err) {
		return fmt.Errorf("minio binary not found at %s", minioPath)
	}

	dataDir, err := os.MkdirTemp("", "minio-data-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	testMinioDir = dataDir

	cmd := exec.Command(minioPath, "server", dataDir, "--address", ":"+testMinioPort, "--quiet")
	cmd.Env = append(os.Environ(), "MINIO_ROOT_USER=minioadmin", "MINIO_ROOT_PASSWORD=minioadmin")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dataDir)
		return fmt.Errorf("failed to start minio: %w", err)
	}
	testMinioProc = cmd.Process

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		store, err := New(context.Background(), minioConfig("probe"))
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err = store.client.ListBuckets(ctx, &s3.ListBucketsInput{})
		cancel()
		if err == nil {
			return nil
		}
	}
	return errors.New("minio did not become ready")
}

func stopMinio() {
	if testMinioProc != nil {
		testMinioProc.Kill()
		testMinioProc.Wait()
	}
	if testMinioDir != "" {
		os.RemoveAll(testMinioDir)
	}
}

func minioConfig(bucket string) Config {
	return Config{
		Bucket:          bucket,
		Endpoint:        "http://localhost:" + testMinioPort,
		Region:          "us-east-1",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		UsePathStyle:    true,
	}
}

func testStore(t *testing.T, bucket string) *Store {
	t.Helper()
	skipIfMinioUnavailable(t)
	ctx := context.Background()

	store, err := New(ctx, minioConfig(bucket))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	_, err = store.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
		t.Fatalf("Failed to create bucket: %v", err)
	}

	t.Cleanup(func() {
		objects, _ := store.List(ctx, "")
		for _, obj := range objects {
			store.Delete(ctx, obj.Key)
		}
		store.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
		store.Close()
	})
	return store
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || !strings.Contains(err.Error(), "bucket name is required") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &types.NoSuchKey{}, objectstore.ErrNotFound},
		{"no such bucket", &types.NoSuchBucket{}, objectstore.ErrBucketNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError("Get", "k", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("wrapError = %v, want %v", err, tt.want)
			}
			var objErr *objectstore.ObjectError
			if !errors.As(err, &objErr) || objErr.Key != "k" || objErr.Op != "Get" {
				t.Errorf("expected ObjectError with op and key, got %#v", err)
			}
		})
	}

	other := errors.New("boom")
	if err := wrapError("Put", "k", other); !errors.Is(err, other) {
		t.Errorf("unmapped error should be preserved, got %v", err)
	}
	if wrapError("Put", "k", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestClosedStore(t *testing.T) {
	store, err := New(context.Background(), Config{Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	store.Close()
	if _, err := store.List(context.Background(), ""); !errors.Is(err, objectstore.ErrClosed) {
		t.Errorf("List after Close = %v, want ErrClosed", err)
	}
}

func TestPutGetListDelete(t *testing.T) {
	store := testStore(t, "strata-archive-test")
	ctx := context.Background()

	data := []byte(`{"name":"nightly"}`)
	key := "checkpoints/nightly/0001.json"
	if err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json", map[string]string{"journal-offset": "42"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %q, want %q", got, data)
	}

	list, err := store.List(ctx, "checkpoints/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Key != key || list[0].Size != int64(len(data)) {
		t.Errorf("List = %+v", list)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}
