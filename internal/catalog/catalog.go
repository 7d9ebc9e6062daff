// Package catalog maintains the lightweight, always-available descriptor set
// for every table and view in the target database.
//
// The catalog is read-mostly: Bootstrap and Refresh build a complete snapshot
// and swap it in atomically, so readers never observe a partially rebuilt
// catalog. It is the single source of truth for table existence — every
// downstream validator goes through Exists.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/logger"
	"github.com/datalumen/schemactx/internal/metadata"
	"github.com/datalumen/schemactx/internal/schema"
)

// Rule assigns a tier (and an optional one-line business description) to a
// physical table. Rules come from the business-entity mapping in config.
type Rule struct {
	Tier        schema.Tier
	Description string
}

// Mapping maps physical table name → tier rule.
// Tables absent from the mapping default to TierPeripheral.
type Mapping map[string]Rule

// Catalog holds one immutable snapshot of the schema's descriptors.
type Catalog struct {
	fetcher metadata.Fetcher
	log     *logger.Logger

	snap    atomic.Pointer[snapshot]
	mapping atomic.Pointer[Mapping]
}

type snapshot struct {
	byName  map[string]schema.TableDescriptor
	names   []string // sorted
	version string
}

// New creates a Catalog. Call Bootstrap before any reads.
func New(fetcher metadata.Fetcher, mapping Mapping, log *logger.Logger) *Catalog {
	if log == nil {
		log = logger.Nop()
	}
	c := &Catalog{fetcher: fetcher, log: log}
	if mapping == nil {
		mapping = Mapping{}
	}
	c.mapping.Store(&mapping)
	return c
}

// Bootstrap issues the single bulk metadata query and populates all
// descriptors. It must succeed before the process can serve requests;
// a failure here is fatal to startup.
func (c *Catalog) Bootstrap(ctx context.Context) error {
	snap, err := c.build(ctx)
	if err != nil {
		return errs.Wrap(errs.ErrKindCatalogUnavailable, "catalog bootstrap failed", err)
	}
	c.snap.Store(snap)
	c.log.With().Int("tables", len(snap.names)).Str("version", snap.version).Logger().
		Info("catalog bootstrapped")
	return nil
}

// Refresh rebuilds the snapshot. On failure the previous snapshot remains
// authoritative — there is never a partial overwrite.
func (c *Catalog) Refresh(ctx context.Context) error {
	snap, err := c.build(ctx)
	if err != nil {
		c.log.With().Err(err).Logger().Warn("catalog refresh failed, keeping previous snapshot")
		return errs.Wrap(errs.ErrKindCatalogUnavailable, "catalog refresh failed", err)
	}
	c.snap.Store(snap)
	c.log.With().Int("tables", len(snap.names)).Str("version", snap.version).Logger().
		Info("catalog refreshed")
	return nil
}

// ApplyMapping reassigns tiers from a reloaded configuration without
// re-querying the database. Existence and ownership are untouched.
func (c *Catalog) ApplyMapping(mapping Mapping) {
	if mapping == nil {
		mapping = Mapping{}
	}
	c.mapping.Store(&mapping)

	old := c.snap.Load()
	if old == nil {
		return
	}
	byName := make(map[string]schema.TableDescriptor, len(old.byName))
	for name, desc := range old.byName {
		applyRule(&desc, mapping)
		byName[name] = desc
	}
	c.snap.Store(&snapshot{byName: byName, names: old.names, version: old.version})
}

// Exists reports whether name is a known table or view.
func (c *Catalog) Exists(name string) bool {
	_, ok := c.current().byName[name]
	return ok
}

// TierOf resolves the tier for name. Unknown or unmapped names are
// TierPeripheral.
func (c *Catalog) TierOf(name string) schema.Tier {
	if desc, ok := c.current().byName[name]; ok {
		return desc.Tier
	}
	return schema.TierPeripheral
}

// Descriptor returns the descriptor for name.
func (c *Catalog) Descriptor(name string) (schema.TableDescriptor, bool) {
	desc, ok := c.current().byName[name]
	return desc, ok
}

// Names returns all catalog names, sorted.
func (c *Catalog) Names() []string {
	return c.current().names
}

// NamesByTier returns the sorted names that carry the given tier.
func (c *Catalog) NamesByTier(tier schema.Tier) []string {
	snap := c.current()
	var names []string
	for _, name := range snap.names {
		if snap.byName[name].Tier == tier {
			names = append(names, name)
		}
	}
	return names
}

// Version returns the schema version hash the snapshot was built against.
func (c *Catalog) Version() string {
	return c.current().version
}

// Summary renders the compact catalog listing handed to the planner:
// one "name [tier] description" line per table, never full detail.
func (c *Catalog) Summary() string {
	snap := c.current()
	var sb strings.Builder
	for _, name := range snap.names {
		desc := snap.byName[name]
		sb.WriteString(name)
		sb.WriteString(" [")
		sb.WriteString(desc.Tier.String())
		sb.WriteString("]")
		if desc.Description != "" {
			sb.WriteString(" ")
			sb.WriteString(desc.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Size returns the number of catalogued objects.
func (c *Catalog) Size() int {
	return len(c.current().names)
}

func (c *Catalog) build(ctx context.Context) (*snapshot, error) {
	descs, err := c.fetcher.ListObjects(ctx)
	if err != nil {
		return nil, err
	}
	version, err := c.fetcher.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	mapping := *c.mapping.Load()
	byName := make(map[string]schema.TableDescriptor, len(descs))
	names := make([]string, 0, len(descs))
	for _, desc := range descs {
		applyRule(&desc, mapping)
		byName[desc.Name] = desc
		names = append(names, desc.Name)
	}
	sort.Strings(names)

	return &snapshot{byName: byName, names: names, version: version}, nil
}

func (c *Catalog) current() *snapshot {
	snap := c.snap.Load()
	if snap == nil {
		// Reads before Bootstrap see an empty catalog rather than panicking.
		return &snapshot{byName: map[string]schema.TableDescriptor{}}
	}
	return snap
}

func applyRule(desc *schema.TableDescriptor, mapping Mapping) {
	if rule, ok := mapping[desc.Name]; ok {
		desc.Tier = rule.Tier
		desc.Description = rule.Description
	} else {
		desc.Tier = schema.TierPeripheral
	}
}
