// Package memory implements storage.Store with mutex-guarded maps. It
// honors the same condition semantics as the dynamo backend and backs
// every service test; it is also the dev-mode store.
package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Store holds rows in a single map keyed by PK|SK. All operations take
// the write lock; contention is irrelevant at test scale.
type Store struct {
	mu   sync.Mutex
	rows map[string]storage.Item
}

// New returns an empty store.
func New() *Store {
	return &Store{rows: make(map[string]storage.Item)}
}

func rowKey(pk, sk string) string { return pk + "|" + sk }

func clone(item storage.Item) storage.Item {
	out := make(storage.Item, len(item))
	for k, v := range item {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		out[k] = v
	}
	return out
}

// Put stores item, guarded by cond against the existing row (nil when
// absent).
func (s *Store) Put(_ context.Context, item storage.Item, cond storage.Condition) error {
	pk, ok1 := item[storage.AttrPK].(string)
	sk, ok2 := item[storage.AttrSK].(string)
	if !ok1 || !ok2 {
		return fmt.Errorf("memory: item missing PK/SK")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.rows[rowKey(pk, sk)]
	if !eval(existing, cond) {
		return storage.ErrConflict
	}
	s.rows[rowKey(pk, sk)] = clone(item)
	return nil
}

// Get returns the row or ErrNotFound.
func (s *Store) Get(_ context.Context, pk, sk string) (storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rows[rowKey(pk, sk)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(item), nil
}

// Delete removes the row if cond holds. Deleting an absent row is a
// no-op unless the condition requires existence.
func (s *Store) Delete(_ context.Context, pk, sk string, cond storage.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.rows[rowKey(pk, sk)]
	if !eval(existing, cond) {
		return storage.ErrConflict
	}
	delete(s.rows, rowKey(pk, sk))
	return nil
}

// Update applies set/add/addToSet under cond and returns the new row.
// Updating an absent row creates it, matching the store's semantics.
func (s *Store) Update(_ context.Context, in storage.UpdateInput) (storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.rows[rowKey(in.PK, in.SK)]
	if !eval(existing, in.Condition) {
		return nil, storage.ErrConflict
	}
	updated := apply(existing, in)
	s.rows[rowKey(in.PK, in.SK)] = updated
	return clone(updated), nil
}

// TransactWrite checks every condition, then applies every op, all
// under one lock acquisition.
func (s *Store) TransactWrite(_ context.Context, ops []storage.WriteOp) error {
	if len(ops) > storage.MaxTransactOps {
		return fmt.Errorf("memory: transaction exceeds %d ops", storage.MaxTransactOps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		var existing storage.Item
		cond := op.Condition
		switch {
		case op.Put != nil:
			pk, _ := op.Put[storage.AttrPK].(string)
			sk, _ := op.Put[storage.AttrSK].(string)
			existing = s.rows[rowKey(pk, sk)]
		case op.Update != nil:
			existing = s.rows[rowKey(op.Update.PK, op.Update.SK)]
			if cond == nil {
				cond = op.Update.Condition
			}
		case op.Delete != nil:
			existing = s.rows[rowKey(op.Delete.PK, op.Delete.SK)]
		}
		if !eval(existing, cond) {
			return storage.ErrConflict
		}
	}
	for _, op := range ops {
		switch {
		case op.Put != nil:
			pk, _ := op.Put[storage.AttrPK].(string)
			sk, _ := op.Put[storage.AttrSK].(string)
			s.rows[rowKey(pk, sk)] = clone(op.Put)
		case op.Update != nil:
			updated := apply(s.rows[rowKey(op.Update.PK, op.Update.SK)], *op.Update)
			s.rows[rowKey(op.Update.PK, op.Update.SK)] = updated
		case op.Delete != nil:
			delete(s.rows, rowKey(op.Delete.PK, op.Delete.SK))
		}
	}
	return nil
}

// Query walks the requested index ordered by sort key, applying the
// sort condition, filter, limit and cursor.
func (s *Store) Query(_ context.Context, in storage.QueryInput) (storage.QueryOutput, error) {
	pkAttr, skAttr, err := indexAttrs(in.Index)
	if err != nil {
		return storage.QueryOutput{}, err
	}

	s.mu.Lock()
	type entry struct {
		sortKey string
		item    storage.Item
	}
	var matches []entry
	for _, item := range s.rows {
		pk, _ := item[pkAttr].(string)
		if pk != in.PartitionKey {
			continue
		}
		sk, _ := item[skAttr].(string)
		if !sortMatches(sk, in.Sort) {
			continue
		}
		if !eval(item, in.Filter) {
			continue
		}
		// Composite keeps GSI pagination stable when sort keys collide.
		primary, _ := item[storage.AttrPK].(string)
		primarySK, _ := item[storage.AttrSK].(string)
		matches = append(matches, entry{sortKey: sk + "\x00" + primary + "\x00" + primarySK, item: clone(item)})
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if in.Forward {
			return matches[i].sortKey < matches[j].sortKey
		}
		return matches[i].sortKey > matches[j].sortKey
	})

	start := 0
	if in.Cursor != "" {
		raw, err := base64.RawURLEncoding.DecodeString(in.Cursor)
		if err != nil {
			return storage.QueryOutput{}, fmt.Errorf("memory: bad cursor: %w", err)
		}
		// Seek past the cursor position rather than matching the anchor
		// row, which may have been deleted between pages.
		last := string(raw)
		if in.Forward {
			start = sort.Search(len(matches), func(i int) bool { return matches[i].sortKey > last })
		} else {
			start = sort.Search(len(matches), func(i int) bool { return matches[i].sortKey < last })
		}
	}

	out := storage.QueryOutput{}
	limit := in.Limit
	if limit <= 0 {
		limit = len(matches)
	}
	for i := start; i < len(matches) && len(out.Items) < limit; i++ {
		out.Items = append(out.Items, matches[i].item)
	}
	if end := start + len(out.Items); end < len(matches) && len(out.Items) > 0 {
		out.NextCursor = base64.RawURLEncoding.EncodeToString([]byte(matches[end-1].sortKey))
	}
	return out, nil
}

func indexAttrs(index string) (string, string, error) {
	switch index {
	case "":
		return storage.AttrPK, storage.AttrSK, nil
	case storage.IndexGSI1:
		return storage.AttrGSI1PK, storage.AttrGSI1SK, nil
	case storage.IndexGSI2:
		return storage.AttrGSI2PK, storage.AttrGSI2SK, nil
	case storage.IndexGSI3:
		return storage.AttrGSI3PK, storage.AttrGSI3SK, nil
	}
	return "", "", fmt.Errorf("memory: unknown index %q", index)
}

func sortMatches(sk string, cond *storage.SortCondition) bool {
	if cond == nil {
		return true
	}
	switch cond.Op {
	case storage.SortBeginsWith:
		return strings.HasPrefix(sk, cond.Value)
	case storage.SortBetween:
		return sk >= cond.Value && sk <= cond.Upper
	case storage.SortEq:
		return sk == cond.Value
	case storage.SortLT:
		return sk < cond.Value
	case storage.SortGT:
		return sk > cond.Value
	}
	return false
}

func apply(existing storage.Item, in storage.UpdateInput) storage.Item {
	updated := storage.Item{}
	if existing != nil {
		updated = clone(existing)
	}
	updated[storage.AttrPK] = in.PK
	updated[storage.AttrSK] = in.SK
	for k, v := range in.Set {
		updated[k] = v
	}
	for k, delta := range in.Add {
		updated[k] = asInt(updated[k]) + delta
	}
	for k, members := range in.AddToSet {
		set, _ := updated[k].([]string)
		for _, m := range members {
			if !slices.Contains(set, m) {
				set = append(set, m)
			}
		}
		updated[k] = set
	}
	return updated
}

func eval(item storage.Item, cond storage.Condition) bool {
	for _, clause := range cond {
		if !evalClause(item, clause) {
			return false
		}
	}
	return true
}

func evalClause(item storage.Item, clause storage.Clause) bool {
	if clause.Op == storage.OpNotExists {
		if item == nil {
			return true
		}
		// attribute_not_exists(PK) on an existing row is always false.
		_, present := item[clause.Attr]
		return !present
	}
	if item == nil {
		return false
	}
	val, present := item[clause.Attr]
	switch clause.Op {
	case storage.OpExists:
		return present
	case storage.OpContains:
		set, _ := val.([]string)
		want, _ := clause.Value.(string)
		return slices.Contains(set, want)
	case storage.OpNotContains:
		set, _ := val.([]string)
		want, _ := clause.Value.(string)
		return !slices.Contains(set, want)
	}
	if !present {
		return false
	}
	if sv, ok := val.(string); ok {
		wv, ok := clause.Value.(string)
		if !ok {
			return false
		}
		return compareOrdered(sv, wv, clause.Op)
	}
	return compareOrdered(asFloat(val), asFloat(clause.Value), clause.Op)
}

func compareOrdered[T string | float64](a, b T, op storage.Op) bool {
	switch op {
	case storage.OpEq:
		return a == b
	case storage.OpNE:
		return a != b
	case storage.OpLT:
		return a < b
	case storage.OpLTE:
		return a <= b
	case storage.OpGT:
		return a > b
	case storage.OpGTE:
		return a >= b
	}
	return false
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
