// Package storage defines the typed contract against the wide-row store.
// Every entity lives in one table keyed by (PK, SK) with three global
// secondary indexes; guild chat lives in a second table with the same
// shape. Backends: dynamo (production) and memory (tests, dev).
package storage

import (
	"context"
	"errors"
)

// Attribute names shared by every row.
const (
	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
	AttrGSI2PK = "GSI2PK"
	AttrGSI2SK = "GSI2SK"
	AttrGSI3PK = "GSI3PK"
	AttrGSI3SK = "GSI3SK"
	AttrType   = "type"
	AttrTTL    = "expiresAt"
)

// Index names. The empty string addresses the primary index.
const (
	IndexGSI1 = "GSI1"
	IndexGSI2 = "GSI2"
	IndexGSI3 = "GSI3"
)

// Error kinds surfaced to services. Throttled is retried inside the
// adapter; everything else propagates.
var (
	ErrNotFound  = errors.New("storage: item not found")
	ErrConflict  = errors.New("storage: condition failed")
	ErrThrottled = errors.New("storage: throttled")
	ErrTransient = errors.New("storage: transient failure")
)

// Item is one row. Values are strings, bool, int64, float64, []string
// (string sets) or nested map[string]any; backends convert as needed.
type Item map[string]any

// Op names a comparison usable in conditions and filters.
type Op string

const (
	OpEq          Op = "="
	OpNE          Op = "<>"
	OpLT          Op = "<"
	OpLTE         Op = "<="
	OpGT          Op = ">"
	OpGTE         Op = ">="
	OpExists      Op = "attribute_exists"
	OpNotExists   Op = "attribute_not_exists"
	OpContains    Op = "contains"
	OpNotContains Op = "not_contains"
)

// Clause is one predicate over an attribute. A Condition is the
// conjunction of its clauses.
type Clause struct {
	Attr  string
	Op    Op
	Value any
}

// Condition guards a write. Empty means unconditional.
type Condition []Clause

// NotExists is the uniqueness-lock guard.
func NotExists(attr string) Condition {
	return Condition{{Attr: attr, Op: OpNotExists}}
}

// Eq guards on a single attribute value, e.g. version = :prev.
func Eq(attr string, value any) Condition {
	return Condition{{Attr: attr, Op: OpEq, Value: value}}
}

// SortOp constrains the sort key of a Query.
type SortOp string

const (
	SortBeginsWith SortOp = "begins_with"
	SortBetween    SortOp = "between"
	SortEq         SortOp = "="
	SortLT         SortOp = "<"
	SortGT         SortOp = ">"
)

// SortCondition narrows a Query to part of a partition.
type SortCondition struct {
	Op    SortOp
	Value string
	// Upper is the inclusive upper bound for SortBetween.
	Upper string
}

// QueryInput describes one paginated read.
type QueryInput struct {
	// Index is "", IndexGSI1, IndexGSI2 or IndexGSI3.
	Index        string
	PartitionKey string
	Sort         *SortCondition
	Filter       Condition
	Limit        int
	// Forward orders ascending by sort key when true.
	Forward bool
	// Cursor resumes a previous page; opaque to callers.
	Cursor string
}

// QueryOutput carries one page and the cursor for the next, empty when
// the partition is exhausted.
type QueryOutput struct {
	Items      []Item
	NextCursor string
}

// UpdateInput mutates a single row in place.
type UpdateInput struct {
	PK string
	SK string
	// Set overwrites attributes.
	Set Item
	// Add increments numeric attributes (missing treated as zero).
	Add map[string]int64
	// AddToSet unions strings into string-set attributes.
	AddToSet map[string][]string
	Condition Condition
}

// WriteOp is one leg of a transaction.
type WriteOp struct {
	// Exactly one of Put, Update, Delete is set.
	Put       Item
	Update    *UpdateInput
	Delete    *Key
	Condition Condition
}

// Key addresses one row.
type Key struct {
	PK string
	SK string
}

// Store is the six-operation contract from the design. Implementations
// retry Throttled internally with exponential backoff and jitter and
// surface every other failure unchanged.
type Store interface {
	Put(ctx context.Context, item Item, cond Condition) error
	Get(ctx context.Context, pk, sk string) (Item, error)
	Query(ctx context.Context, in QueryInput) (QueryOutput, error)
	Update(ctx context.Context, in UpdateInput) (Item, error)
	// TransactWrite applies up to 25 ops atomically; any failed
	// condition fails the whole batch with ErrConflict.
	TransactWrite(ctx context.Context, ops []WriteOp) error
	Delete(ctx context.Context, pk, sk string, cond Condition) error
}

// MaxTransactOps is the store's transaction size limit.
const MaxTransactOps = 25
