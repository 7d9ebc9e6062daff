// Package minio provides a MinIO implementation of filestore.Store.
package minio

import (
	"bytes"
	"context"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/filestore"
)

// Driver is a MinIO implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
}

// New connects to MinIO using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// --- filestore.Store implementation ---

// Ping verifies the MinIO server is reachable by listing buckets.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.ListBuckets(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op for MinIO — the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// EnsureBucket creates bucket if it does not already exist.
func (d *Driver) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := d.client.BucketExists(ctx, bucket)
	if err != nil {
		return mapError(err, "failed to check bucket "+bucket)
	}
	if exists {
		return nil
	}
	if err := d.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
		return mapError(err, "failed to create bucket "+bucket)
	}
	return nil
}

// PutObject writes data to key, replacing any prior object.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	_, err := d.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return mapError(err, "failed to put object "+key)
	}
	return nil
}

// GetObject opens a streaming handle to the object at key.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	obj, err := d.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object "+key)
	}
	// GetObject is lazy; surface missing-object errors now so callers get a
	// typed not-found instead of a read error later.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapError(err, "failed to stat object "+key)
	}
	return obj, nil
}

// ListObjects returns the keys under prefix.
func (d *Driver) ListObjects(ctx context.Context, bucket, prefix string) ([]filestore.ObjectInfo, error) {
	ch := d.client.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var infos []filestore.ObjectInfo
	for obj := range ch {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects under "+prefix)
		}
		infos = append(infos, filestore.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}
	return infos, nil
}

// RemoveObject deletes the object at key. Removing a missing object succeeds.
func (d *Driver) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := d.client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		mapped := mapError(err, "failed to remove object "+key)
		if errs.IsNotFound(mapped) {
			return nil
		}
		return mapped
	}
	return nil
}
