// Package listset provides a queryable in-memory collection over snapshot
// rows: filter by predicate or primary key, multi-field ordering and
// pagination.
package listset

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Row is an element of a ListSet.
type Row interface {
	// PK is the primary key used by FilterPK.
	PK() string
	// Field returns the value of a named, orderable field. ok is false for
	// unknown fields and must not depend on the receiver's values, since the
	// zero row is used to validate field names. A nil value sorts last.
	Field(name string) (value any, ok bool)
}

// Meta names the model held by a ListSet.
type Meta struct {
	VerboseName       string
	VerboseNamePlural string
}

// ListSet is an ordered snapshot of rows. Operations that narrow or reorder
// return a new ListSet; the receiver is never modified except by Append.
type ListSet[T Row] struct {
	meta  Meta
	items []T
}

func New[T Row](meta Meta, items ...T) *ListSet[T] {
	cp := make([]T, len(items))
	copy(cp, items)
	return &ListSet[T]{meta: meta, items: cp}
}

func (s *ListSet[T]) Append(v T) { s.items = append(s.items, v) }

func (s *ListSet[T]) All() *ListSet[T] { return s }

func (s *ListSet[T]) Count() int { return len(s.items) }

func (s *ListSet[T]) Len() int { return len(s.items) }

// Items returns a copy of the rows in their current order.
func (s *ListSet[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

func (s *ListSet[T]) Clone() *ListSet[T] { return New(s.meta, s.items...) }

func (s *ListSet[T]) VerboseName() string { return s.meta.VerboseName }

func (s *ListSet[T]) VerboseNamePlural() string {
	if s.meta.VerboseNamePlural != "" {
		return s.meta.VerboseNamePlural
	}
	return s.meta.VerboseName + "s"
}

// Filter keeps rows for which keep returns true.
func (s *ListSet[T]) Filter(keep func(T) bool) *ListSet[T] {
	out := &ListSet[T]{meta: s.meta, items: make([]T, 0, len(s.items))}
	for _, it := range s.items {
		if keep(it) {
			out.items = append(out.items, it)
		}
	}
	return out
}

// FilterPK keeps rows whose primary key is one of ids.
func (s *ListSet[T]) FilterPK(ids ...string) *ListSet[T] {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return s.Filter(func(it T) bool {
		_, ok := want[it.PK()]
		return ok
	})
}

// Distinct is a no-op: rows are already unique snapshots.
func (s *ListSet[T]) Distinct(...string) *ListSet[T] { return s }

// SelectRelated is a no-op: there are no relations to join.
func (s *ListSet[T]) SelectRelated(...string) *ListSet[T] { return s }

// OrderBy sorts by the given fields, compared left to right. A leading "-"
// reverses a field. Nil values sort last in either direction. The sort is
// stable, so rows that compare equal keep their current order.
func (s *ListSet[T]) OrderBy(fields ...string) (*ListSet[T], error) {
	keys := make([]orderKey, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		k := orderKey{name: strings.TrimPrefix(f, "-"), desc: strings.HasPrefix(f, "-")}
		if k.name == "" {
			return nil, fmt.Errorf("invalid order field %q", f)
		}
		keys = append(keys, k)
	}
	var zero T
	for _, k := range keys {
		if _, ok := zero.Field(k.name); !ok {
			return nil, fmt.Errorf("unknown order field %q", k.name)
		}
	}
	out := s.Clone()
	if len(keys) == 0 || len(out.items) == 0 {
		return out, nil
	}
	sort.SliceStable(out.items, func(i, j int) bool {
		for _, k := range keys {
			a, _ := out.items[i].Field(k.name)
			b, _ := out.items[j].Field(k.name)
			c := compareNilLast(a, b, k.desc)
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out, nil
}

// Page returns up to limit rows starting at offset, plus the total count.
// A non-positive limit returns everything from offset on.
func (s *ListSet[T]) Page(offset, limit int) ([]T, int) {
	total := len(s.items)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []T{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, s.items[offset:end])
	return out, total
}

type orderKey struct {
	name string
	desc bool
}

func compareNilLast(a, b any, desc bool) int {
	an, bn := isNil(a), isNil(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	c := compare(a, b)
	if desc {
		return -c
	}
	return c
}

func isNil(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case time.Time:
		return val.IsZero()
	case *time.Time:
		return val == nil || val.IsZero()
	}
	return false
}

func compare(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			return cmp.Compare(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return cmp.Compare(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmp.Compare(boolInt(av), boolInt(bv))
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case *time.Time:
		if bv, ok := b.(*time.Time); ok {
			return av.Compare(*bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
