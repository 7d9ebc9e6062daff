// Package intent maps a natural-language query to a bounded set of candidate
// table names before any expensive schema detail is loaded.
//
// The planner's reply is treated as untrusted input: it is parsed
// defensively, and every suggested name is validated against the catalog.
// Names that do not exist are recorded and logged but never reach SQL
// generation.
package intent

import (
	"context"
	"fmt"
	"time"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/logger"
	"github.com/datalumen/schemactx/internal/schema"
)

// Planner is the external language-model collaborator. It receives one
// prompt and returns raw text that should contain a JSON array of table
// names, possibly wrapped in explanatory prose or markdown fences.
type Planner interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CatalogView is the slice of the catalog the resolver needs.
type CatalogView interface {
	Exists(name string) bool
	Summary() string
	NamesByTier(tier schema.Tier) []string
}

// RecentSource reports recently used CONTEXTUAL tables for the fallback set.
// May be nil, in which case the fallback is CORE tables only.
type RecentSource interface {
	RecentContextual(n int) []string
}

// Options tunes the resolver.
type Options struct {
	// Timeout bounds the planner call. Expiry triggers the fallback.
	Timeout time.Duration

	// FallbackRecent is how many recently accessed CONTEXTUAL tables join
	// the CORE set when the planner cannot be used.
	FallbackRecent int
}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.FallbackRecent <= 0 {
		o.FallbackRecent = 5
	}
}

// Resolver turns a query plus the catalog summary into an IntentResult.
type Resolver struct {
	planner Planner
	cat     CatalogView
	recent  RecentSource
	log     *logger.Logger
	opts    Options
}

// New creates a Resolver. planner and recent may be nil; without a planner
// every query resolves to the fallback set.
func New(planner Planner, cat CatalogView, recent RecentSource, opts Options, log *logger.Logger) *Resolver {
	opts.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{planner: planner, cat: cat, recent: recent, log: log, opts: opts}
}

// Resolve asks the planner for candidate tables and validates the answer.
//
// Planner failure, an unparsable reply, or a reply where nothing survives
// validation all degrade to the deterministic fallback set instead of
// returning an error: intent resolution never fails a request outright.
func (r *Resolver) Resolve(ctx context.Context, query string) (*schema.IntentResult, error) {
	if query == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "empty query")
	}
	if r.planner == nil {
		return r.fallback(), nil
	}

	plannerCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	raw, err := r.planner.Complete(plannerCtx, r.buildPrompt(query))
	if err != nil {
		r.log.With().Err(err).Logger().Warn("planner call failed, using fallback table set")
		return r.fallback(), nil
	}

	names := ParseTableList(raw)
	if len(names) == 0 {
		r.log.Warn("planner reply had no parseable table list, using fallback table set")
		return r.fallback(), nil
	}

	result := &schema.IntentResult{RawCandidateNames: names}
	for _, name := range names {
		if r.cat.Exists(name) {
			result.ValidatedTables = append(result.ValidatedTables, name)
		} else {
			result.RejectedNames = append(result.RejectedNames, name)
		}
	}
	if len(result.RejectedNames) > 0 {
		r.log.With().Strs("rejected", result.RejectedNames).Logger().
			Warn("planner suggested unknown tables")
	}
	if len(result.ValidatedTables) == 0 {
		// Every suggestion was hallucinated; the fallback is still better
		// than an empty context.
		r.log.Warn("no planner suggestion survived validation, using fallback table set")
		fb := r.fallback()
		fb.RawCandidateNames = names
		fb.RejectedNames = result.RejectedNames
		return fb, nil
	}
	return result, nil
}

// fallback returns all CORE tables plus the most recently accessed
// CONTEXTUAL tables.
func (r *Resolver) fallback() *schema.IntentResult {
	validated := append([]string(nil), r.cat.NamesByTier(schema.TierCore)...)
	if r.recent != nil {
		for _, name := range r.recent.RecentContextual(r.opts.FallbackRecent) {
			validated = append(validated, name)
		}
	}
	return &schema.IntentResult{ValidatedTables: validated, Fallback: true}
}

func (r *Resolver) buildPrompt(query string) string {
	return fmt.Sprintf(`You are selecting database tables for a SQL generation system.

USER QUERY: %s

AVAILABLE TABLES (name [tier] description):
%s
Reply with a JSON array of the table names needed to answer the query,
most relevant first. Use only names from the list above. Return ONLY the
JSON array without any explanation or markdown formatting.`, query, r.cat.Summary())
}
