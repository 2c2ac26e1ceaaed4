package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"record-sync/core/record"
	"record-sync/core/storage"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ErrStorageDisabled is returned by Open when no object store is configured.
var ErrStorageDisabled = errors.New("asset storage is disabled")

// Stager uploads file-backed field values to the object store and rewrites
// them to carry the storage key. Keys are derived from file content, so an
// unchanged file always maps to the same key.
type Stager struct {
	client storage.Client
	bucket string
	logger *zap.Logger
}

// NewStager creates a stager writing to bucket. A nil client disables
// uploads: Stage then returns values unchanged.
func NewStager(client storage.Client, bucket string, logger *zap.Logger) *Stager {
	return &Stager{client: client, bucket: bucket, logger: logger}
}

// Enabled reports whether an object store is configured.
func (s *Stager) Enabled() bool {
	return s != nil && s.client != nil
}

// EnsureBucket creates the asset bucket when it does not exist.
func (s *Stager) EnsureBucket(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Created asset bucket", zap.String("bucket", s.bucket))
	return nil
}

// Stage uploads every asset in fields that has a local path and returns a
// copy of fields where those assets carry their storage key.
func (s *Stager) Stage(ctx context.Context, fields map[string]record.Value) (map[string]record.Value, error) {
	if !s.Enabled() {
		return fields, nil
	}
	out := make(map[string]record.Value, len(fields))
	for name, v := range fields {
		staged, err := s.stageValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("failed to stage field %s: %w", name, err)
		}
		out[name] = staged
	}
	return out, nil
}

func (s *Stager) stageValue(ctx context.Context, v record.Value) (record.Value, error) {
	switch v.Kind() {
	case record.KindAsset:
		a, _ := v.AsAsset()
		if a.Path == "" {
			return v, nil
		}
		key, err := s.upload(ctx, a.Path)
		if err != nil {
			return record.Value{}, err
		}
		return record.AssetValue(record.Asset{Path: a.Path, Key: key}), nil
	case record.KindList:
		items, _ := v.AsList()
		for i, item := range items {
			staged, err := s.stageValue(ctx, item)
			if err != nil {
				return record.Value{}, err
			}
			items[i] = staged
		}
		return record.List(items...), nil
	default:
		return v, nil
	}
}

// upload stores the file at path under its content key unless an object
// with that key already exists.
func (s *Stager) upload(ctx context.Context, path string) (string, error) {
	key, size, err := contentKey(path)
	if err != nil {
		return "", err
	}

	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return key, nil
	}
	if !storage.IsNotFound(err) {
		return "", fmt.Errorf("failed to stat asset %s: %w", key, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open asset %s: %w", path, err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, s.bucket, key, f, size, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"filename": filepath.Base(path)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload asset %s: %w", path, err)
	}
	s.logger.Debug("Uploaded asset", zap.String("path", path), zap.String("key", key), zap.Int64("size", size))
	return key, nil
}

// Open streams the stored content of a.
func (s *Stager) Open(ctx context.Context, a record.Asset) (io.ReadCloser, error) {
	if !s.Enabled() {
		return nil, ErrStorageDisabled
	}
	if a.Key == "" {
		return nil, fmt.Errorf("asset %s has not been uploaded", a.Path)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, a.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", a.Key, err)
	}
	return obj, nil
}

// Remove deletes the stored content of a.
func (s *Stager) Remove(ctx context.Context, a record.Asset) error {
	if !s.Enabled() || a.Key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, a.Key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove asset %s: %w", a.Key, err)
	}
	return nil
}

func contentKey(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open asset %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash asset %s: %w", path, err)
	}
	return "sha256/" + hex.EncodeToString(h.Sum(nil)), n, nil
}
