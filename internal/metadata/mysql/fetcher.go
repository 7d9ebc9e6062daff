// Package mysql implements metadata.Fetcher for MySQL on database/sql.
package mysql

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql" // register "mysql" driver

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/metadata"
	"github.com/datalumen/schemactx/internal/schema"
)

// Fetcher reads MySQL metadata through information_schema. The introspected
// namespace is always the DSN's database (DATABASE() in queries).
// It is safe for concurrent use by multiple goroutines.
type Fetcher struct {
	db *sql.DB
}

// New opens a MySQL connection pool using the provided Config and returns a
// Fetcher. It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *metadata.Config) (*Fetcher, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid mysql DSN", err)
	}

	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	f := &Fetcher{db: db}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := f.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return f, nil
}

// --- metadata.Fetcher implementation ---

func (f *Fetcher) Ping(ctx context.Context) error {
	if err := f.db.PingContext(ctx); err != nil {
		return mapError(err, errs.ErrKindConnectionFailed, "ping failed")
	}
	return nil
}

func (f *Fetcher) Close() {
	_ = f.db.Close()
}

func (f *Fetcher) ListObjects(ctx context.Context) ([]schema.TableDescriptor, error) {
	const q = `
		SELECT table_name, table_schema, table_type
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`

	rows, err := f.db.QueryContext(ctx, q)
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
	return descs, mapError(rows.Err(), errs.ErrKindCatalogUnavailable, "error iterating tables")
}

func (f *Fetcher) FetchDetail(ctx context.Context, table string) (*schema.TableDetail, error) {
	detail := &schema.TableDetail{Name: table}

	cols, err := f.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errs.Newf(errs.ErrKindUnknownTable, "table %s not found", table)
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
		SELECT table_name, column_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE()
		  AND referenced_table_name = ?
		ORDER BY table_name`

	rows, err := f.db.QueryContext(ctx, q, table)
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

func (f *Fetcher) SchemaVersion(ctx context.Context) (string, error) {
	const q = `
		SELECT COALESCE(MD5(GROUP_CONCAT(
			CONCAT(table_name, '.', column_name, ':', data_type)
			ORDER BY table_name, ordinal_position SEPARATOR ',')), '')
		FROM information_schema.columns
		WHERE table_schema = DATABASE()`

	var version string
	if err := f.db.QueryRowContext(ctx, q).Scan(&version); err != nil {
		return "", mapError(err, errs.ErrKindCatalogUnavailable, "failed to compute schema version")
	}
	return version, nil
}

func (f *Fetcher) fetchColumns(ctx context.Context, table string) ([]schema.ColumnDescriptor, error) {
	const q = `
		SELECT
			column_name,
			data_type,
			is_nullable = 'YES',
			column_default,
			column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`

	rows, err := f.db.QueryContext(ctx, q, table)
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
			COALESCE(kcu.referenced_table_name, ''),
			COALESCE(kcu.referenced_column_name, '')
		FROM information_schema.table_constraints tc
		LEFT JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.table_schema = DATABASE() AND tc.table_name = ?
		ORDER BY tc.constraint_name`

	rows, err := f.db.QueryContext(ctx, q, table)
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
		SELECT index_name, column_name, non_unique = 0
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY index_name, seq_in_index`

	rows, err := f.db.QueryContext(ctx, q, table)
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
