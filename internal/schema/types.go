// Package schema defines the typed records shared by the catalog, cache,
// relationship discovery, and context assembly layers.
//
// The package is intentionally dependency-free: every other internal package
// imports it, and it imports nothing but the standard library.
package schema

import "time"

// Tier is the priority class of a table. It governs whether the table's
// detail is always resident (CORE), loaded on demand (CONTEXTUAL), or loaded
// only when explicitly referenced (PERIPHERAL).
type Tier int

const (
	TierPeripheral Tier = iota
	TierContextual
	TierCore
)

func (t Tier) String() string {
	switch t {
	case TierCore:
		return "core"
	case TierContextual:
		return "contextual"
	default:
		return "peripheral"
	}
}

// ParseTier maps a configuration string to a Tier.
// Unknown strings map to TierPeripheral, matching the catalog default.
func ParseTier(s string) Tier {
	switch s {
	case "core":
		return TierCore
	case "contextual":
		return TierContextual
	default:
		return TierPeripheral
	}
}

// ObjectKind distinguishes tables from views in the catalog.
type ObjectKind string

const (
	KindTable ObjectKind = "TABLE"
	KindView  ObjectKind = "VIEW"
)

// TableDescriptor is the lightweight catalog record for one table or view.
// It is cheap enough to hold for every object in the database.
type TableDescriptor struct {
	Name        string
	Owner       string
	Kind        ObjectKind
	Tier        Tier
	Description string // optional one-liner from the tier mapping
}

// ColumnDescriptor describes a single column of a table.
type ColumnDescriptor struct {
	Name           string  `json:"name"`
	DataType       string  `json:"data_type"`
	Nullable       bool    `json:"nullable"`
	PrimaryKeyPart bool    `json:"primary_key_part"`
	DefaultValue   *string `json:"default_value,omitempty"`
}

// ConstraintKind categorises a table constraint.
type ConstraintKind string

const (
	ConstraintPrimaryKey ConstraintKind = "PK"
	ConstraintForeignKey ConstraintKind = "FK"
	ConstraintUnique     ConstraintKind = "UNIQUE"
	ConstraintCheck      ConstraintKind = "CHECK"
)

// ConstraintDescriptor describes one constraint on a table.
// ReferencedTable/ReferencedColumn are set only for foreign keys.
type ConstraintDescriptor struct {
	Name             string         `json:"name"`
	Kind             ConstraintKind `json:"kind"`
	Column           string         `json:"column,omitempty"`
	ReferencedTable  string         `json:"referenced_table,omitempty"`
	ReferencedColumn string         `json:"referenced_column,omitempty"`
}

// IndexDescriptor describes one index on a table.
type IndexDescriptor struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// TableDetail is the expensive per-table metadata materialised lazily on
// first use. Columns preserve their ordinal position in the table.
type TableDetail struct {
	Name        string                 `json:"name"`
	Columns     []ColumnDescriptor     `json:"columns"`
	Constraints []ConstraintDescriptor `json:"constraints"`
	Indexes     []IndexDescriptor      `json:"indexes"`
}

// ForeignKeys returns the FK constraints declared on the table.
func (d *TableDetail) ForeignKeys() []ConstraintDescriptor {
	var fks []ConstraintDescriptor
	for _, c := range d.Constraints {
		if c.Kind == ConstraintForeignKey {
			fks = append(fks, c)
		}
	}
	return fks
}

// EdgeDirection records how a relationship edge was discovered relative to
// the table that contributed it.
type EdgeDirection string

const (
	EdgeOutgoing EdgeDirection = "outgoing" // FK declared on FromTable
	EdgeIncoming EdgeDirection = "incoming" // another table references FromTable
)

// RelationshipEdge is one foreign-key relationship between two tables.
// Edges are read-only once a discovery run has produced them.
type RelationshipEdge struct {
	FromTable  string        `json:"from_table"`
	FromColumn string        `json:"from_column"`
	ToTable    string        `json:"to_table"`
	ToColumn   string        `json:"to_column"`
	Direction  EdgeDirection `json:"direction"`
}

// IntentResult is the outcome of resolving a natural-language query to a
// candidate table set. ValidatedTables is always a subset of the catalog;
// RejectedNames holds everything the planner suggested that does not exist.
type IntentResult struct {
	RawCandidateNames []string
	ValidatedTables   []string
	RejectedNames     []string
	Fallback          bool // true when the deterministic fallback set was used
}

// WarningKind classifies a degraded outcome attached to a SchemaContext.
type WarningKind string

const (
	WarnDetailFetchFailed  WarningKind = "detail_fetch_failed"
	WarnIntentFallback     WarningKind = "intent_fallback"
	WarnDiscoveryTruncated WarningKind = "discovery_truncated"
	WarnDeadlineExceeded   WarningKind = "deadline_exceeded"
	WarnRejectedTableNames WarningKind = "rejected_table_names"
)

// Warning reports a non-fatal problem encountered while building a context.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Table   string      `json:"table,omitempty"`
	Message string      `json:"message"`
}

// SchemaContext is the assembled, minimal schema description handed to
// downstream SQL generation: detail for the tables a query needs plus the
// relationship edges connecting them, and structured warnings for anything
// that degraded along the way.
type SchemaContext struct {
	Query     string                  `json:"query"`
	Tables    map[string]*TableDetail `json:"tables"`
	Edges     []RelationshipEdge      `json:"edges"`
	Warnings  []Warning               `json:"warnings,omitempty"`
	Truncated bool                    `json:"truncated,omitempty"`
	BuiltAt   time.Time               `json:"built_at"`
}

// TableNames returns the context's table names in no particular order.
func (c *SchemaContext) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for name := range c.Tables {
		names = append(names, name)
	}
	return names
}
