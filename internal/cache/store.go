package cache

import (
	"context"
	"time"

	"github.com/datalumen/schemactx/internal/schema"
)

// Record is the durable form of one cache entry: the table detail plus the
// metadata needed to revalidate it after a restart.
type Record struct {
	Name          string                        `json:"name"`
	Columns       []schema.ColumnDescriptor     `json:"columns"`
	Constraints   []schema.ConstraintDescriptor `json:"constraints"`
	Indexes       []schema.IndexDescriptor      `json:"indexes"`
	FetchedAt     time.Time                     `json:"fetched_at"`
	SchemaVersion string                        `json:"schema_version"`
}

// NewRecord builds a Record from detail.
func NewRecord(detail *schema.TableDetail, fetchedAt time.Time, version string) *Record {
	return &Record{
		Name:          detail.Name,
		Columns:       detail.Columns,
		Constraints:   detail.Constraints,
		Indexes:       detail.Indexes,
		FetchedAt:     fetchedAt,
		SchemaVersion: version,
	}
}

// Detail reconstructs the TableDetail held in the record.
func (r *Record) Detail() *schema.TableDetail {
	return &schema.TableDetail{
		Name:        r.Name,
		Columns:     r.Columns,
		Constraints: r.Constraints,
		Indexes:     r.Indexes,
	}
}

// Store persists cache records across process restarts, keyed by table name.
//
// Get returns ErrKindNotFound for a missing record and ErrKindCacheCorruption
// for a record that exists but cannot be decoded; callers treat both as
// misses, and remove corrupt records.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, name string) (*Record, error)
	List(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, name string) error
}
