// Package builder composes intent resolution, the schema cache, and
// relationship discovery into the minimal schema context handed to
// downstream SQL generation.
//
// The builder prefers a degraded context over no context: per-table failures
// become structured warnings, and an expired deadline returns whatever
// detail had already resolved.
package builder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/logger"
	"github.com/datalumen/schemactx/internal/relgraph"
	"github.com/datalumen/schemactx/internal/schema"
)

// IntentResolver resolves a query to a validated candidate table set.
type IntentResolver interface {
	Resolve(ctx context.Context, query string) (*schema.IntentResult, error)
}

// DetailSource supplies per-table detail, normally the schema cache.
type DetailSource interface {
	GetOrFetch(ctx context.Context, table string) (*schema.TableDetail, error)
}

// Discoverer expands a seed table set along foreign-key relationships.
type Discoverer interface {
	Discover(ctx context.Context, seeds []string, maxDepth, maxTables int) (*relgraph.Result, error)
}

// Options tunes one builder.
type Options struct {
	// FetchConcurrency bounds parallel detail fetches within one request,
	// protecting the metadata source from fan-out storms.
	FetchConcurrency int

	// Deadline bounds the whole buildContext call. On expiry whatever has
	// resolved is returned as a partial context with a timeout warning.
	Deadline time.Duration

	// MaxDepth / MaxTables bound relationship discovery.
	MaxDepth  int
	MaxTables int
}

func (o *Options) withDefaults() {
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = 4
	}
	if o.Deadline <= 0 {
		o.Deadline = 60 * time.Second
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 2
	}
	if o.MaxTables <= 0 {
		o.MaxTables = 25
	}
}

// Builder assembles schema contexts. Safe for concurrent use.
type Builder struct {
	resolver IntentResolver
	details  DetailSource
	disc     Discoverer
	log      *logger.Logger
	opts     Options
}

// New creates a Builder.
func New(resolver IntentResolver, details DetailSource, disc Discoverer, opts Options, log *logger.Logger) *Builder {
	opts.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{resolver: resolver, details: details, disc: disc, log: log, opts: opts}
}

// BuildContext resolves intent, loads detail for the candidate tables,
// expands one relationship neighborhood, and assembles the result.
//
// It returns an error only for unusable input; every downstream failure
// degrades to warnings on the (possibly partial) context.
func (b *Builder) BuildContext(ctx context.Context, query string) (*schema.SchemaContext, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Deadline)
	defer cancel()

	start := time.Now()
	sc := &schema.SchemaContext{
		Query:   query,
		Tables:  make(map[string]*schema.TableDetail),
		BuiltAt: start,
	}

	res, err := b.resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	if res.Fallback {
		sc.Warnings = append(sc.Warnings, schema.Warning{
			Kind:    schema.WarnIntentFallback,
			Message: "intent resolution fell back to the deterministic table set",
		})
	}
	if len(res.RejectedNames) > 0 {
		sc.Warnings = append(sc.Warnings, schema.Warning{
			Kind:    schema.WarnRejectedTableNames,
			Message: fmt.Sprintf("dropped unknown tables: %v", res.RejectedNames),
		})
	}

	b.fetchAll(ctx, sc, res.ValidatedTables)

	if ctx.Err() == nil && b.disc != nil {
		result, derr := b.disc.Discover(ctx, res.ValidatedTables, b.opts.MaxDepth, b.opts.MaxTables)
		if derr != nil {
			b.log.With().Err(derr).Logger().Warn("relationship discovery failed")
		} else {
			sc.Edges = result.Edges
			sc.Truncated = result.Truncated
			if result.Truncated {
				sc.Warnings = append(sc.Warnings, schema.Warning{
					Kind:    schema.WarnDiscoveryTruncated,
					Message: "relationship discovery hit a depth or size bound; the graph may be incomplete",
				})
			}
			b.fetchAll(ctx, sc, result.Tables)
		}
	}

	if ctx.Err() != nil {
		sc.Warnings = append(sc.Warnings, schema.Warning{
			Kind:    schema.WarnDeadlineExceeded,
			Message: "deadline expired; context contains only the detail that resolved in time",
		})
	}

	b.log.With().
		Int("tables", len(sc.Tables)).
		Int("edges", len(sc.Edges)).
		Int("warnings", len(sc.Warnings)).
		Dur("took", time.Since(start)).
		Logger().Info("schema context built")
	return sc, nil
}

// fetchAll loads detail for names with bounded concurrency, recording a
// warning per failed table instead of propagating errors.
func (b *Builder) fetchAll(ctx context.Context, sc *schema.SchemaContext, names []string) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.FetchConcurrency)

	for _, name := range names {
		name := name
		mu.Lock()
		_, have := sc.Tables[name]
		mu.Unlock()
		if have {
			continue
		}

		g.Go(func() error {
			detail, err := b.details.GetOrFetch(gctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				kind := schema.WarnDetailFetchFailed
				if errs.IsTimeout(err) {
					kind = schema.WarnDeadlineExceeded
				}
				sc.Warnings = append(sc.Warnings, schema.Warning{
					Kind:    kind,
					Table:   name,
					Message: err.Error(),
				})
				return nil // partial failure never aborts the request
			}
			sc.Tables[name] = detail
			return nil
		})
	}
	_ = g.Wait()
}
