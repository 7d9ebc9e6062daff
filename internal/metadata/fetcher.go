// Package metadata defines the boundary to the database's metadata views.
//
// All layers above this package talk only to the Fetcher interface — they
// never import the postgres or mysql packages directly.
package metadata

import (
	"context"
	"time"

	"github.com/datalumen/schemactx/internal/schema"
)

// Fetcher reads schema metadata from a relational database.
//
// Implementations must be safe for concurrent use: the cache issues
// FetchDetail calls for disjoint table names in parallel. A failed call
// returns a typed *errs.Error, never partial data.
type Fetcher interface {
	// Ping verifies the metadata source is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// ListObjects returns one lightweight descriptor per table and view.
	// This is the single bulk query issued at catalog bootstrap; descriptors
	// come back with Tier unset (the catalog assigns tiers from its mapping).
	ListObjects(ctx context.Context) ([]schema.TableDescriptor, error)

	// FetchDetail returns the full column/constraint/index detail for one
	// table. This is the expensive call — callers cache the result.
	FetchDetail(ctx context.Context, table string) (*schema.TableDetail, error)

	// FetchReferencing returns the foreign-key edges declared in OTHER
	// tables that point at table. TableDetail only carries a table's own
	// constraints, so incoming references need this dedicated lookup.
	FetchReferencing(ctx context.Context, table string) ([]schema.RelationshipEdge, error)

	// SchemaVersion returns a stable hash of the current schema shape.
	// Durable cache entries recorded under a different version are not
	// trusted as fresh.
	SchemaVersion(ctx context.Context) (string, error)
}

// Driver identifies the database engine.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds all settings needed to connect to and pool the metadata source.
type Config struct {
	// Driver is the database engine (e.g. DriverPostgres).
	Driver Driver

	// DSN is the full data source name / connection string.
	DSN string

	// Schema is the namespace to introspect. Defaults to "public" for
	// Postgres; MySQL uses the DSN's database and ignores this field.
	Schema string

	// Pool tuning
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// ConnectTimeout bounds establishing a new connection.
	ConnectTimeout time.Duration
}

// DefaultConfig returns production-ready pool settings for the given DSN.
// Metadata queries are cheap and bursty, so the pool stays small.
func DefaultConfig(dsn string) *Config {
	return &Config{
		Driver:          DriverPostgres,
		DSN:             dsn,
		Schema:          "public",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}
