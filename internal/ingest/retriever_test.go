package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"stormsync/internal/types"
)

// --- Mock S3 Client ---

// mockS3Client implements S3Client for testing.
type mockS3Client struct {
	mu sync.Mutex
	// objects maps "bucket/key" to raw bytes.
	objects map[string][]byte
	// failKeys causes GetObject to return an error for these keys.
	failKeys map[string]error
	// callLog records the bucket/key pairs that were fetched.
	callLog []string
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects:  make(map[string][]byte),
		failKeys: make(map[string]error),
	}
}

func (m *mockS3Client) putObject(bucket, key string, data []byte) {
	m.objects[bucket+"/"+key] = data
}

func (m *mockS3Client) setFailKey(bucket, key string, err error) {
	m.failKeys[bucket+"/"+key] = err
}

func (m *mockS3Client) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.callLog))
	copy(out, m.callLog)
	return out
}

func (m *mockS3Client) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	fullKey := bucket + "/" + key
	m.mu.Lock()
	m.callLog = append(m.callLog, fullKey)
	m.mu.Unlock()

	if err, ok := m.failKeys[fullKey]; ok {
		return nil, err
	}
	data, ok := m.objects[fullKey]
	if !ok {
		return nil, fmt.Errorf("s3: NoSuchKey: %s", fullKey)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// compressGzip compresses data for download fixtures.
func compressGzip(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("failed to build gzip fixture: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to build gzip fixture: %v", err)
	}
	return buf.Bytes()
}

// --- Test: Retriever.Materialize ---

const mosaicKey = "CONUS/EchoTop_18_00.50/20250611/MRMS_EchoTop_18_00.50_20250611-143600.grib2.gz"

func mosaicRecord() types.CandidateRecord {
	return types.CandidateRecord{
		Key:       mosaicKey,
		Timestamp: time.Date(2025, 6, 11, 14, 36, 0, 0, time.UTC),
	}
}

func TestMaterializeDownloadsAndDecompresses(t *testing.T) {
	payload := []byte("grid payload")
	client := newMockS3Client()
	client.putObject("noaa-mrms-pds", mosaicKey, compressGzip(t, payload))

	outdir := filepath.Join(t.TempDir(), "data", "EchoTop18")
	r := NewRetriever(client, "noaa-mrms-pds", testLogger())

	artifact, err := r.Materialize(context.Background(), mosaicRecord(), outdir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Compressed {
		t.Error("expected a decompressed artifact")
	}

	wantPath := filepath.Join(outdir, "MRMS_EchoTop_18_00.50_20250611-143600.grib2")
	if artifact.Path != wantPath {
		t.Errorf("artifact path = %q, want %q", artifact.Path, wantPath)
	}

	got, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("artifact content = %q, want %q", got, payload)
	}

	if _, err := os.Stat(filepath.Join(outdir, filepath.Base(mosaicKey))); !os.IsNotExist(err) {
		t.Error("compressed file must be deleted after decompression")
	}
}

func TestMaterializeIdempotent(t *testing.T) {
	payload := []byte("grid payload")
	client := newMockS3Client()
	client.putObject("noaa-mrms-pds", mosaicKey, compressGzip(t, payload))

	outdir := t.TempDir()
	r := NewRetriever(client, "noaa-mrms-pds", testLogger())

	first, err := r.Materialize(context.Background(), mosaicRecord(), outdir)
	if err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	fetches := len(client.calls())

	second, err := r.Materialize(context.Background(), mosaicRecord(), outdir)
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if second.Path != first.Path {
		t.Errorf("second path = %q, want %q", second.Path, first.Path)
	}
	if got := len(client.calls()); got != fetches {
		t.Errorf("second call fetched from the network (%d calls, want %d)", got, fetches)
	}
}

func TestMaterializePlainObject(t *testing.T) {
	key := "GLM-L2-LCFA/2025/162/14/OR_GLM-L2-LCFA_G19_s20251621400000_e20251621400200_c20251621400217.nc"
	payload := []byte(`{"event_count":3}`)
	client := newMockS3Client()
	client.putObject("noaa-goes19", key, payload)

	outdir := t.TempDir()
	r := NewRetriever(client, "noaa-goes19", testLogger())

	rec := types.CandidateRecord{Key: key, Timestamp: time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)}
	artifact, err := r.Materialize(context.Background(), rec, outdir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Compressed {
		t.Error("plain objects must not be reported as compressed")
	}

	got, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("artifact content = %q, want %q", got, payload)
	}
}

func TestMaterializeResumesLeftoverCompressed(t *testing.T) {
	payload := []byte("grid payload")
	client := newMockS3Client()

	outdir := t.TempDir()
	leftover := filepath.Join(outdir, filepath.Base(mosaicKey))
	if err := os.WriteFile(leftover, compressGzip(t, payload), 0o644); err != nil {
		t.Fatalf("failed to plant leftover: %v", err)
	}

	r := NewRetriever(client, "noaa-mrms-pds", testLogger())
	artifact, err := r.Materialize(context.Background(), mosaicRecord(), outdir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.calls()) != 0 {
		t.Errorf("expected no network calls, got %v", client.calls())
	}
	got, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("artifact content = %q, want %q", got, payload)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("leftover compressed file must be deleted after decompression")
	}
}

func TestMaterializeFetchError(t *testing.T) {
	client := newMockS3Client()
	client.setFailKey("noaa-mrms-pds", mosaicKey, errors.New("connection reset"))

	outdir := t.TempDir()
	r := NewRetriever(client, "noaa-mrms-pds", testLogger())

	_, err := r.Materialize(context.Background(), mosaicRecord(), outdir)
	if err == nil {
		t.Fatal("expected an error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeFeedTransferFailed {
		t.Errorf("error code = %q, want %q", appErr.Code, types.ErrCodeFeedTransferFailed)
	}

	entries, err := os.ReadDir(outdir)
	if err != nil {
		t.Fatalf("failed to read outdir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no partial files, found %v", entries)
	}
}

func TestMaterializeCorruptGzipKeepsCompressed(t *testing.T) {
	client := newMockS3Client()
	client.putObject("noaa-mrms-pds", mosaicKey, []byte("not gzip at all"))

	outdir := t.TempDir()
	r := NewRetriever(client, "noaa-mrms-pds", testLogger())

	artifact, err := r.Materialize(context.Background(), mosaicRecord(), outdir)
	if err == nil {
		t.Fatal("expected an error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeArtifactDecompressFailed {
		t.Errorf("error code = %q, want %q", appErr.Code, types.ErrCodeArtifactDecompressFailed)
	}

	// The compressed copy stays for the next cycle to resume from.
	if !artifact.Compressed {
		t.Error("expected the compressed artifact back")
	}
	if _, err := os.Stat(filepath.Join(outdir, filepath.Base(mosaicKey))); err != nil {
		t.Errorf("compressed file must survive a failed decompression: %v", err)
	}
	plain := filepath.Join(outdir, "MRMS_EchoTop_18_00.50_20250611-143600.grib2")
	if _, err := os.Stat(plain); !os.IsNotExist(err) {
		t.Error("no plain artifact may exist after a failed decompression")
	}
}

// --- Test: Retriever.Decompress ---

func TestDecompressRejectsNonGzip(t *testing.T) {
	r := NewRetriever(newMockS3Client(), "bucket", testLogger())

	_, err := r.Decompress(context.Background(), filepath.Join(t.TempDir(), "plain.grib2"))
	if err == nil {
		t.Fatal("expected an error")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeArtifactDecompressFailed {
		t.Errorf("error code = %q, want %q", appErr.Code, types.ErrCodeArtifactDecompressFailed)
	}
}

func TestDecompressSkipsWhenPlainExists(t *testing.T) {
	dir := t.TempDir()
	compressed := filepath.Join(dir, "file.grib2.gz")
	plain := filepath.Join(dir, "file.grib2")
	if err := os.WriteFile(plain, []byte("already here"), 0o644); err != nil {
		t.Fatalf("failed to write plain file: %v", err)
	}

	r := NewRetriever(newMockS3Client(), "bucket", testLogger())
	got, err := r.Decompress(context.Background(), compressed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != plain {
		t.Errorf("got %q, want %q", got, plain)
	}
}
