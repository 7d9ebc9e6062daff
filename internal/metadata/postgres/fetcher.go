// Package postgres implements metadata.Fetcher for PostgreSQL on pgx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/metadata"
	"github.com/datalumen/schemactx/internal/schema"
)

// Fetcher reads PostgreSQL metadata through information_schema and the
// pg_catalog views. It is safe for concurrent use by multiple goroutines.
type Fetcher struct {
	pool   *pgxpool.Pool
	schema string
}

// New connects to PostgreSQL using the provided Config and returns a Fetcher.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *metadata.Config) (*Fetcher, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid postgres DSN", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	ns := cfg.Schema
	if ns == "" {
		ns = "public"
	}

	f := &Fetcher{pool: pool, schema: ns}

	if err := f.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return f, nil
}

// --- metadata.Fetcher implementation ---

// Ping verifies the database is reachable.
func (f *Fetcher) Ping(ctx context.Context) error {
	if err := f.pool.Ping(ctx); err != nil {
		return mapError(err, errs.ErrKindConnectionFailed, "ping failed")
	}
	return nil
}

// Close drains the connection pool.
func (f *Fetcher) Close() {
	f.pool.Close()
}

// ListObjects returns one descriptor per table and view in the configured
// schema. This is the bulk catalog bootstrap query.
func (f *Fetcher) ListObjects(ctx context.Context) ([]schema.TableDescriptor, error) {
	const q = `
		SELECT table_name, table_schema, table_type
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`

	rows, err := f.pool.Query(ctx, q, f.schema)
	if err != nil {
		return nil, mapError(err, errs.ErrKindCatalogUnavailable, "failed to list tables")
	}
	defer rows.Close()

	var descs []schema.TableDescriptor
	for rows.Next() {
		var name, owner, kind string
		if err := rows.Scan(&name, &owner, &kind); err != nil {
			return nil, mapError(err, errs.ErrKindCatalogUnavailable, "failed to scan table descriptor")
		}
		objKind := schema.KindTable
		if kind == "VIEW" {
			objKind = schema.KindView
		}
		descs = append(descs, schema.TableDescriptor{Name: name, Owner: owner, Kind: objKind})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, errs.ErrKindCatalogUnavailable, "error iterating tables")
	}
	return descs, nil
}

// FetchDetail returns columns, constraints, and indexes for one table.
func (f *Fetcher) FetchDetail(ctx context.Context, table string) (*schema.TableDetail, error) {
	detail := &schema.TableDetail{Name: table}

	cols, err := f.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errs.Newf(errs.ErrKindUnknownTable, "table %s.%s not found", f.schema, table)
	}
	detail.Columns = cols

	if detail.Constraints, err = f.fetchConstraints(ctx, table); err != nil {
		return nil, err
	}
	if detail.Indexes, err = f.fetchIndexes(ctx, table); err != nil {
		return nil, err
	}
	return detail, nil
}

// FetchReferencing returns FK edges declared in other tables that point at
// table. Used by relationship discovery for incoming expansion.
func (f *Fetcher) FetchReferencing(ctx context.Context, table string) ([]schema.RelationshipEdge, error) {
	const q = `
		SELECT kcu.table_name, kcu.column_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		  AND ccu.table_name  = $2
		ORDER BY kcu.table_name`

	rows, err := f.pool.Query(ctx, q, f.schema, table)
	if err != nil {
		return nil, mapError(err, errs.ErrKindDetailFetchFailed, "failed to fetch references to "+table)
	}
	defer rows.Close()

	var edges []schema.RelationshipEdge
	for rows.Next() {
		edge := schema.RelationshipEdge{ToTable: table, Direction: schema.EdgeIncoming}
		if err := rows.Scan(&edge.FromTable, &edge.FromColumn, &edge.ToColumn); err != nil {
			return nil, mapError(err, errs.ErrKindDetailFetchFailed, "failed to scan reference to "+table)
		}
		edges = append(edges, edge)
	}
	return edges, mapError(rows.Err(), errs.ErrKindDetailFetchFailed, "error iterating references to "+table)
}

// SchemaVersion hashes the names and types of every object in the schema.
// Any DDL that adds, drops, or retypes a column changes the version.
func (f *Fetcher) SchemaVersion(ctx context.Context) (string, error) {
	const q = `
		SELECT COALESCE(md5(string_agg(
			table_name || '.' || column_name || ':' || data_type,
			',' ORDER BY table_name, ordinal_position)), '')
		FROM information_schema.columns
		WHERE table_schema = $1`

	var version string
	if err := f.pool.QueryRow(ctx, q, f.schema).Scan(&version); err != nil {
		return "", mapError(err, errs.ErrKindCatalogUnavailable, "failed to compute schema version")
	}
	return version, nil
}

func (f *Fetcher) fetchColumns(ctx context.Context, table string) ([]schema.ColumnDescriptor, error) {
	const q = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES'     AS is_nullable,
			c.column_default,
			COALESCE(pk.is_pk, false) AS is_pk
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, true AS is_pk
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
			  AND tc.table_schema = $1
			  AND tc.table_name   = $2
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := f.pool.Query(ctx, q, f.schema, table)
	if err != nil {
		return nil, mapError(err, errs.ErrKindDetailFetchFailed, "failed to fetch columns for "+table)
	}
	defer rows.Close()

	var cols []schema.ColumnDescriptor
	for rows.Next() {
		var col schema.ColumnDescriptor
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.DefaultValue, &col.PrimaryKeyPart); err != nil {
			return nil, mapError(err, errs.ErrKindDetailFetchFailed, "failed to scan column for "+table)
		}
		cols = append(cols, col)
	}
	return cols, mapError(rows.Err(), errs.ErrKindDetailFetchFailed, "error iterating columns for "+table)
}

func (f *Fetcher) fetchConstraints(ctx context.Context, table string) ([]schema.ConstraintDescriptor, error) {
	const q = `
		SELECT
			tc.constraint_name,
			tc.constraint_type,
			COALESCE(kcu.column_name, ''),
			CASE WHEN tc.constraint_type = 'FOREIGN KEY' THEN ccu.table_name  ELSE '' END,
			CASE WHEN tc.constraint_type = 'FOREIGN KEY' THEN ccu.column_name ELSE '' END
		FROM information_schema.table_constraints tc
		LEFT JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		LEFT JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY tc.constraint_name`

	rows, err := f.pool.Query(ctx, q, f.schema, table)
	if err != nil {
		return nil, mapError(err, errs.ErrKindDetailFetchFailed, "failed to fetch constraints for "+table)
	}
	defer rows.Close()

	var cons []schema.ConstraintDescriptor
	for rows.Next() {
		var c schema.ConstraintDescriptor
		var typ string
		if err := rows.Scan(&c.Name, &typ, &c.Column, &c.ReferencedTable, &c.ReferencedColumn); err != nil {
			return nil, mapError(err, errs.ErrKindDetailFetchFailed, "failed to scan constraint for "+table)
		}
		switch typ {
		case "PRIMARY KEY":
			c.Kind = schema.ConstraintPrimaryKey
		case "FOREIGN KEY":
			c.Kind = schema.ConstraintForeignKey
		case "UNIQUE":
			c.Kind = schema.ConstraintUnique
		case "CHECK":
			c.Kind = schema.ConstraintCheck
		default:
			continue
		}
		cons = append(cons, c)
	}
	return cons, mapError(rows.Err(), errs.ErrKindDetailFetchFailed, "error iterating constraints for "+table)
}

func (f *Fetcher) fetchIndexes(ctx context.Context, table string) ([]schema.IndexDescriptor, error) {
	const q = `
		SELECT i.relname, a.attname, ix.indisunique
		FROM pg_class t
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_index ix    ON t.oid = ix.indrelid
		JOIN pg_class i     ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY i.relname, a.attnum`

	rows, err := f.pool.Query(ctx, q, f.schema, table)
	if err != nil {
		return nil, mapError(err, errs.ErrKindDetailFetchFailed, "failed to fetch indexes for "+table)
	}
	defer rows.Close()

	byName := make(map[string]*schema.IndexDescriptor)
	var order []string
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &column, &unique); err != nil {
			return nil, mapError(err, errs.ErrKindDetailFetchFailed, "failed to scan index for "+table)
		}
		idx, ok := byName[name]
		if !ok {
			idx = &schema.IndexDescriptor{Name: name, Unique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, errs.ErrKindDetailFetchFailed, "error iterating indexes for "+table)
	}

	indexes := make([]schema.IndexDescriptor, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *byName[name])
	}
	return indexes, nil
}
