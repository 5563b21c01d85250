package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
)

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Blob is a snapshot being written. Close commits it, Abort discards it.
type Blob interface {
	io.Writer
	Close() error
	Abort() error
}

// Sink stores snapshots by name.
type Sink interface {
	Create(ctx context.Context, name string) (Blob, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context) ([]string, error)
}

// ============================================================================
// Local files
// ============================================================================

// FileSink stores snapshots as files in a directory.
type FileSink struct {
	root string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a sink rooted at dir, creating it if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileSink{root: dir}, nil
}

// Create writes to a temporary file that is renamed into place on Close.
func (s *FileSink) Create(_ context.Context, name string) (Blob, error) {
	f, err := os.CreateTemp(s.root, ".tmp-"+filepath.Base(name)+"-*")
	if err != nil {
		return nil, err
	}
	return &fileBlob{f: f, target: filepath.Join(s.root, name)}, nil
}

// Open opens a committed snapshot.
func (s *FileSink) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, err
}

// List returns the committed snapshot names, sorted.
func (s *FileSink) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

type fileBlob struct {
	f      *os.File
	target string
}

func (b *fileBlob) Write(p []byte) (int, error) {
	return b.f.Write(p)
}

func (b *fileBlob) Close() error {
	if err := b.f.Sync(); err != nil {
		_ = b.Abort()
		return err
	}
	if err := b.f.Close(); err != nil {
		_ = os.Remove(b.f.Name())
		return err
	}
	return os.Rename(b.f.Name(), b.target)
}

func (b *fileBlob) Abort() error {
	_ = b.f.Close()
	return os.Remove(b.f.Name())
}

// ============================================================================
// MinIO / S3-compatible object storage
// ============================================================================

// MinioSink stores snapshots as objects under a prefix of a bucket.
type MinioSink struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ Sink = (*MinioSink)(nil)

// NewMinioSink creates a sink over an existing bucket.
func NewMinioSink(client *minio.Client, bucket, prefix string) *MinioSink {
	return &MinioSink{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioSink) key(name string) string {
	return path.Join(s.prefix, name)
}

// Create streams the upload; the object becomes visible when Close returns.
func (s *MinioSink) Create(ctx context.Context, name string) (Blob, error) {
	pr, pw := io.Pipe()
	blob := &minioBlob{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1, minio.PutObjectOptions{
			ContentType: "application/zstd",
		})
		_ = pr.CloseWithError(err)
		blob.done <- err
	}()

	return blob, nil
}

// Open reads a snapshot object.
func (s *MinioSink) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)

	// GetObject is lazy; stat first so that a missing object fails here
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}

	return s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
}

// List returns the snapshot names under the prefix, sorted.
func (s *MinioSink) List(ctx context.Context) ([]string, error) {
	prefix := s.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := strings.TrimPrefix(obj.Key, prefix); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

type minioBlob struct {
	pw       *io.PipeWriter
	done     chan error
	finished atomic.Bool
}

func (b *minioBlob) Write(p []byte) (int, error) {
	return b.pw.Write(p)
}

func (b *minioBlob) Close() error {
	if !b.finished.CompareAndSwap(false, true) {
		return errors.New("already closed")
	}
	if err := b.pw.Close(); err != nil {
		return err
	}
	return <-b.done
}

func (b *minioBlob) Abort() error {
	if !b.finished.CompareAndSwap(false, true) {
		return nil
	}
	return b.pw.CloseWithError(errors.New("upload aborted"))
}
