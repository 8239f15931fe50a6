// Package object stores raw document bytes and backup files in an
// S3-compatible bucket.
package object

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

// Store wraps the MinIO client with graphmem's key layout:
// memories/{memory_id}/documents/{document_id} for raw artifacts and
// _backups/{memory_id}/{ts}/... for snapshots.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// ObjectInfo is the listing row returned by List and ListAll.
type ObjectInfo struct {
	Key          string    `json:"key"`
	URI          string    `json:"uri"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// New creates the store and verifies the bucket exists, creating it when
// missing.
func New(ctx context.Context, cfg config.ObjectConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, domain.DependencyError("object-store", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket, logger: log.WithModule("object")}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, domain.DependencyError("object-store", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, domain.DependencyError("object-store", err)
		}
		s.logger.Info("bucket created", "bucket", cfg.Bucket)
	}
	return s, nil
}

// DocumentKey builds the canonical key for a document's raw bytes.
func DocumentKey(memoryID, documentID string) string {
	return path.Join("memories", memoryID, "documents", documentID)
}

// URI renders the s3:// URI for a key.
func (s *Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// ParseKey extracts the key from an s3:// URI, or returns the input when it
// is already a bare key.
func (s *Store) ParseKey(keyOrURI string) (string, error) {
	if !strings.HasPrefix(keyOrURI, "s3://") {
		return keyOrURI, nil
	}
	rest := strings.TrimPrefix(keyOrURI, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("%w: malformed object URI %q", domain.ErrInvalidInput, keyOrURI)
	}
	return parts[1], nil
}

// HashBytes computes the SHA-256 content hash used for document dedup.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Put uploads bytes under key.
func (s *Store) Put(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = GuessContentType(key)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", domain.DependencyError("object-store", err)
	}
	s.logger.Debug("object stored", "key", key, "bytes", len(content))
	return s.URI(key), nil
}

// Get downloads the object at key.
func (s *Store) Get(ctx context.Context, keyOrURI string) ([]byte, error) {
	key, err := s.ParseKey(keyOrURI)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.DependencyError("object-store", err)
	}
	defer func() { _ = obj.Close() }()

	content, err := io.ReadAll(obj)
	if err != nil {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, key)
		}
		return nil, domain.DependencyError("object-store", err)
	}
	return content, nil
}

// Delete removes the object at key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, keyOrURI string) error {
	key, err := s.ParseKey(keyOrURI)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return domain.DependencyError("object-store", err)
	}
	return nil
}

// Exists reports whether the object at key is present.
func (s *Store) Exists(ctx context.Context, keyOrURI string) (bool, error) {
	_, err := s.Head(ctx, keyOrURI)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Head returns the size of the object at key.
func (s *Store) Head(ctx context.Context, keyOrURI string) (int64, error) {
	key, err := s.ParseKey(keyOrURI)
	if err != nil {
		return 0, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && (respErr.Code == "NoSuchKey" || respErr.StatusCode == 404) {
			return 0, fmt.Errorf("%w: object %s", domain.ErrNotFound, key)
		}
		return 0, domain.DependencyError("object-store", err)
	}
	return info.Size, nil
}

// ListPrefix enumerates every object under prefix.
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, domain.DependencyError("object-store", info.Err)
		}
		out = append(out, ObjectInfo{
			Key:          info.Key,
			URI:          s.URI(info.Key),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	return out, nil
}

// DeletePrefix removes every object under prefix and returns the count.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := s.ListPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, obj := range objects {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Debug("prefix cleared", "prefix", prefix, "deleted", deleted)
	}
	return deleted, nil
}

// Ping verifies the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return domain.DependencyError("object-store", err)
	}
	return nil
}

// GuessContentType maps a filename extension to a MIME type.
func GuessContentType(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	types := map[string]string{
		"pdf":  "application/pdf",
		"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"doc":  "application/msword",
		"txt":  "text/plain",
		"md":   "text/markdown",
		"json": "application/json",
		"xml":  "application/xml",
		"html": "text/html",
		"htm":  "text/html",
		"csv":  "text/csv",
		"png":  "image/png",
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
	}
	if ct, ok := types[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
