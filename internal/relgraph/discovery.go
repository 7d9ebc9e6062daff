// Package relgraph discovers cross-table relationships incrementally.
//
// Discovery is a breadth-first expansion from a seed table set, bounded by
// depth and by total visited tables, so a single request can never trigger a
// full-schema scan and graph cycles cannot cause unbounded growth. Edges come
// only from formally declared foreign-key constraints — nothing is inferred
// from column naming.
package relgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/datalumen/schemactx/internal/logger"
	"github.com/datalumen/schemactx/internal/schema"
)

// DetailSource supplies per-table detail, normally the schema cache so
// repeated discovery runs never refetch.
type DetailSource interface {
	GetOrFetch(ctx context.Context, table string) (*schema.TableDetail, error)
}

// ReferenceSource lists FK edges in other tables that point at a table.
// May be nil, in which case discovery expands along outgoing edges only.
type ReferenceSource interface {
	FetchReferencing(ctx context.Context, table string) ([]schema.RelationshipEdge, error)
}

// CatalogView validates discovered names before they enter the frontier.
type CatalogView interface {
	Exists(name string) bool
}

// Result is the outcome of one discovery run. Edges and Tables are
// read-only once returned.
type Result struct {
	// Edges holds every relationship found, deduplicated.
	Edges []schema.RelationshipEdge

	// Tables lists tables reached through expansion, beyond the seeds,
	// sorted. These load at CONTEXTUAL priority downstream, never CORE.
	Tables []string

	// Truncated is set when a depth or size bound stopped expansion while
	// unvisited tables remained. Informational, not an error.
	Truncated bool
}

// Discoverer runs bounded relationship discovery.
type Discoverer struct {
	details DetailSource
	refs    ReferenceSource
	cat     CatalogView
	log     *logger.Logger
}

// New creates a Discoverer. refs may be nil to skip incoming expansion.
func New(details DetailSource, refs ReferenceSource, cat CatalogView, log *logger.Logger) *Discoverer {
	if log == nil {
		log = logger.Nop()
	}
	return &Discoverer{details: details, refs: refs, cat: cat, log: log}
}

// Discover expands from seeds up to maxDepth hops, visiting at most
// maxTables tables in total (seeds included). Per-table failures skip that
// table rather than aborting the run.
func (d *Discoverer) Discover(ctx context.Context, seeds []string, maxDepth, maxTables int) (*Result, error) {
	res := &Result{}
	if len(seeds) == 0 || maxDepth <= 0 || maxTables <= 0 {
		return res, nil
	}

	visited := make(map[string]bool, len(seeds))
	seeded := make(map[string]bool, len(seeds))
	var frontier []string
	for _, seed := range seeds {
		if visited[seed] || !d.cat.Exists(seed) {
			continue
		}
		if len(visited) >= maxTables {
			// The size bound alone cut the seed set.
			res.Truncated = true
			break
		}
		visited[seed] = true
		seeded[seed] = true
		frontier = append(frontier, seed)
	}

	seenEdges := make(map[string]bool)
	addEdge := func(edge schema.RelationshipEdge) {
		key := fmt.Sprintf("%s.%s>%s.%s", edge.FromTable, edge.FromColumn, edge.ToTable, edge.ToColumn)
		if !seenEdges[key] {
			seenEdges[key] = true
			res.Edges = append(res.Edges, edge)
		}
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string

		enqueue := func(name string) {
			if visited[name] || !d.cat.Exists(name) {
				return
			}
			if len(visited) >= maxTables {
				res.Truncated = true
				return
			}
			visited[name] = true
			next = append(next, name)
		}

		for _, table := range frontier {
			if err := ctx.Err(); err != nil {
				res.Truncated = true
				return res, nil
			}

			detail, err := d.details.GetOrFetch(ctx, table)
			if err != nil {
				d.log.With().Str("table", table).Err(err).Logger().
					Warn("skipping table during relationship discovery")
				continue
			}
			for _, fk := range detail.ForeignKeys() {
				if fk.ReferencedTable == "" {
					continue
				}
				addEdge(schema.RelationshipEdge{
					FromTable:  table,
					FromColumn: fk.Column,
					ToTable:    fk.ReferencedTable,
					ToColumn:   fk.ReferencedColumn,
					Direction:  schema.EdgeOutgoing,
				})
				enqueue(fk.ReferencedTable)
			}

			if d.refs == nil {
				continue
			}
			incoming, err := d.refs.FetchReferencing(ctx, table)
			if err != nil {
				d.log.With().Str("table", table).Err(err).Logger().
					Warn("skipping incoming references during relationship discovery")
				continue
			}
			for _, edge := range incoming {
				addEdge(edge)
				enqueue(edge.FromTable)
			}
		}

		if depth == maxDepth-1 && len(next) > 0 {
			// Bound hit with tables still pending.
			res.Truncated = true
		}
		frontier = next
	}

	for name := range visited {
		if !seeded[name] {
			res.Tables = append(res.Tables, name)
		}
	}
	sort.Strings(res.Tables)
	return res, nil
}
