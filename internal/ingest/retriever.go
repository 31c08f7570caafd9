// Package ingest implements idempotent artifact retrieval and decompression.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"stormsync/internal/types"
)

const (
	// gzipSuffix marks objects that must be decompressed after download.
	gzipSuffix = ".gz"

	// transferChunkSize is the buffer size for download and decompression
	// copies.
	transferChunkSize = 1 << 20
)

// S3Client is the subset of the S3 API needed to fetch a single object.
type S3Client interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Retriever downloads feed objects into local output directories. Every step
// checks the filesystem first, so re-running a retrieval that already
// completed touches no network at all.
type Retriever struct {
	client S3Client
	bucket string
	logger *slog.Logger

	// readerPool reuses gzip readers across decompressions.
	readerPool sync.Pool
}

// NewRetriever creates a Retriever over the given bucket.
func NewRetriever(client S3Client, bucket string, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		client: client,
		bucket: bucket,
		logger: logger,
		readerPool: sync.Pool{
			New: func() any { return new(gzip.Reader) },
		},
	}
}

// Materialize ensures the artifact for rec exists in outdir, downloading and
// decompressing only the steps not already done. On a decompression failure
// the compressed copy is left on disk so the next cycle resumes from it
// instead of re-downloading.
func (r *Retriever) Materialize(ctx context.Context, rec types.CandidateRecord, outdir string) (types.LocalArtifact, error) {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return types.LocalArtifact{}, &types.AppError{
			Code:    types.ErrCodeFeedTransferFailed,
			Message: fmt.Sprintf("failed to create output directory %s: %v", outdir, err),
			Err:     err,
		}
	}

	compressed := filepath.Join(outdir, rec.Basename())
	plain := strings.TrimSuffix(compressed, gzipSuffix)

	if plain != compressed && fileExists(plain) {
		r.logger.Debug("artifact already on disk", "path", plain)
		return types.LocalArtifact{Path: plain}, nil
	}
	if fileExists(compressed) {
		r.logger.Debug("artifact already on disk", "path", compressed)
		if plain == compressed {
			return types.LocalArtifact{Path: compressed}, nil
		}
		// Leftover from an interrupted run; finish the decompression.
		return r.decompressArtifact(ctx, compressed)
	}

	r.logger.Info("downloading feed object", "bucket", r.bucket, "key", rec.Key)
	if err := r.download(ctx, rec.Key, compressed); err != nil {
		return types.LocalArtifact{}, err
	}
	r.logger.Info("download complete", "path", compressed)

	if plain == compressed {
		return types.LocalArtifact{Path: compressed}, nil
	}
	return r.decompressArtifact(ctx, compressed)
}

func (r *Retriever) decompressArtifact(ctx context.Context, compressed string) (types.LocalArtifact, error) {
	plain, err := r.Decompress(ctx, compressed)
	if err != nil {
		return types.LocalArtifact{Path: compressed, Compressed: true}, err
	}
	return types.LocalArtifact{Path: plain}, nil
}

func (r *Retriever) download(ctx context.Context, key, dest string) error {
	body, err := r.client.GetObject(ctx, r.bucket, key)
	if err != nil {
		return &types.AppError{
			Code:    types.ErrCodeFeedTransferFailed,
			Message: fmt.Sprintf("failed to fetch %s/%s: %v", r.bucket, key, err),
			Err:     err,
		}
	}
	defer body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return &types.AppError{
			Code:    types.ErrCodeFeedTransferFailed,
			Message: fmt.Sprintf("failed to create %s: %v", dest, err),
			Err:     err,
		}
	}

	buf := make([]byte, transferChunkSize)
	if _, err := io.CopyBuffer(out, body, buf); err != nil {
		out.Close()
		os.Remove(dest)
		return &types.AppError{
			Code:    types.ErrCodeFeedTransferFailed,
			Message: fmt.Sprintf("failed to write %s: %v", dest, err),
			Err:     err,
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return &types.AppError{
			Code:    types.ErrCodeFeedTransferFailed,
			Message: fmt.Sprintf("failed to finalize %s: %v", dest, err),
			Err:     err,
		}
	}
	return nil
}

// Decompress inflates compressedPath next to itself, deletes the compressed
// copy on success and returns the plain path. Already-decompressed artifacts
// are detected and skipped.
func (r *Retriever) Decompress(_ context.Context, compressedPath string) (string, error) {
	if !strings.HasSuffix(compressedPath, gzipSuffix) {
		return "", &types.AppError{
			Code:    types.ErrCodeArtifactDecompressFailed,
			Message: fmt.Sprintf("%s is not a gzip artifact", compressedPath),
		}
	}
	plain := strings.TrimSuffix(compressedPath, gzipSuffix)
	if fileExists(plain) {
		r.logger.Debug("artifact already decompressed", "path", plain)
		return plain, nil
	}

	in, err := os.Open(compressedPath)
	if err != nil {
		return "", &types.AppError{
			Code:    types.ErrCodeArtifactDecompressFailed,
			Message: fmt.Sprintf("failed to open %s: %v", compressedPath, err),
			Err:     err,
		}
	}
	defer in.Close()

	zr := r.readerPool.Get().(*gzip.Reader)
	defer r.readerPool.Put(zr)
	if err := zr.Reset(in); err != nil {
		return "", &types.AppError{
			Code:    types.ErrCodeArtifactDecompressFailed,
			Message: fmt.Sprintf("failed to read gzip header of %s: %v", compressedPath, err),
			Err:     err,
		}
	}

	out, err := os.Create(plain)
	if err != nil {
		return "", &types.AppError{
			Code:    types.ErrCodeArtifactDecompressFailed,
			Message: fmt.Sprintf("failed to create %s: %v", plain, err),
			Err:     err,
		}
	}

	// The trailing CRC check surfaces as an error at EOF of the copy.
	buf := make([]byte, transferChunkSize)
	if _, err := io.CopyBuffer(out, zr, buf); err != nil {
		out.Close()
		os.Remove(plain)
		return "", &types.AppError{
			Code:    types.ErrCodeArtifactDecompressFailed,
			Message: fmt.Sprintf("failed to decompress %s: %v", compressedPath, err),
			Err:     err,
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(plain)
		return "", &types.AppError{
			Code:    types.ErrCodeArtifactDecompressFailed,
			Message: fmt.Sprintf("failed to finalize %s: %v", plain, err),
			Err:     err,
		}
	}

	if err := os.Remove(compressedPath); err != nil {
		return "", &types.AppError{
			Code:    types.ErrCodeArtifactDecompressFailed,
			Message: fmt.Sprintf("failed to remove %s after decompression: %v", compressedPath, err),
			Err:     err,
		}
	}
	r.logger.Debug("decompressed artifact", "path", plain)
	return plain, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
