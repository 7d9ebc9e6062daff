package cache

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/filestore"
)

const recordSuffix = ".json"

// ObjectStore is a Store backed by object storage: one JSON record per table
// under <prefix>/<table>.json.
type ObjectStore struct {
	fs     filestore.Store
	bucket string
	prefix string
}

// NewObjectStore creates an ObjectStore and ensures the bucket exists.
func NewObjectStore(ctx context.Context, fs filestore.Store, bucket, prefix string) (*ObjectStore, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if err := fs.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return &ObjectStore{fs: fs, bucket: bucket, prefix: prefix}, nil
}

// Put writes rec, replacing any prior record for the same table.
func (s *ObjectStore) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "failed to encode cache record "+rec.Name, err)
	}
	return s.fs.PutObject(ctx, s.bucket, s.key(rec.Name), data)
}

// Get reads the record for name. A record that exists but does not decode is
// reported as cache corruption so the caller rebuilds from source.
func (s *ObjectStore) Get(ctx context.Context, name string) (*Record, error) {
	obj, err := s.fs.GetObject(ctx, s.bucket, s.key(name))
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindCacheCorruption, "failed to read cache record "+name, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.Wrap(errs.ErrKindCacheCorruption, "failed to decode cache record "+name, err)
	}
	if rec.Name != name {
		return nil, errs.Newf(errs.ErrKindCacheCorruption, "cache record key %s holds table %s", name, rec.Name)
	}
	return &rec, nil
}

// List returns the table names with a durable record.
func (s *ObjectStore) List(ctx context.Context) ([]string, error) {
	infos, err := s.fs.ListObjects(ctx, s.bucket, s.prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		key := strings.TrimPrefix(info.Key, s.prefix)
		if !strings.HasSuffix(key, recordSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(key, recordSuffix))
	}
	return names, nil
}

// Remove deletes the record for name.
func (s *ObjectStore) Remove(ctx context.Context, name string) error {
	return s.fs.RemoveObject(ctx, s.bucket, s.key(name))
}

func (s *ObjectStore) key(name string) string {
	return s.prefix + name + recordSuffix
}
