package listset

import (
	"testing"
	"time"
)

type item struct {
	id      string
	name    string
	order   int
	created time.Time
}

func (i item) PK() string { return i.id }

func (i item) Field(name string) (any, bool) {
	switch name {
	case "id":
		return i.id, true
	case "name":
		return i.name, true
	case "order":
		return i.order, true
	case "created_at":
		return i.created, true
	}
	return nil, false
}

var meta = Meta{VerboseName: "job"}

func ids(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrderByMultiField(t *testing.T) {
	s := New(meta,
		item{id: "a", name: "x", order: 2},
		item{id: "b", name: "y", order: 1},
		item{id: "c", name: "x", order: 1},
		item{id: "d", name: "y", order: 3},
	)
	out, err := s.OrderBy("name", "-order")
	if err != nil {
		t.Fatalf("order by: %v", err)
	}
	if got := ids(out.Items()); !equal(got, []string{"a", "c", "d", "b"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if got := ids(s.Items()); !equal(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("receiver must not be reordered: %v", got)
	}
}

func TestOrderByNilLastBothDirections(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(meta,
		item{id: "never"},
		item{id: "old", created: base},
		item{id: "new", created: base.Add(time.Hour)},
	)
	asc, err := s.OrderBy("created_at")
	if err != nil {
		t.Fatalf("order by: %v", err)
	}
	if got := ids(asc.Items()); !equal(got, []string{"old", "new", "never"}) {
		t.Fatalf("unexpected ascending order: %v", got)
	}
	desc, _ := s.OrderBy("-created_at")
	if got := ids(desc.Items()); !equal(got, []string{"new", "old", "never"}) {
		t.Fatalf("unexpected descending order: %v", got)
	}
}

func TestOrderByStable(t *testing.T) {
	s := New(meta, item{id: "1", name: "x"}, item{id: "2", name: "x"}, item{id: "3", name: "x"})
	out, _ := s.OrderBy("-name")
	if got := ids(out.Items()); !equal(got, []string{"1", "2", "3"}) {
		t.Fatalf("expected stable order: %v", got)
	}
}

func TestOrderByErrors(t *testing.T) {
	s := New(meta, item{id: "1"})
	if _, err := s.OrderBy("colour"); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := s.OrderBy("-"); err == nil {
		t.Fatalf("expected invalid field error")
	}
	out, err := s.OrderBy()
	if err != nil || out.Count() != 1 {
		t.Fatalf("expected no-op ordering: %v", err)
	}
	if _, err := New[item](meta).OrderBy("colour"); err == nil {
		t.Fatalf("expected unknown field error on empty set")
	}
	empty, err := New[item](meta).OrderBy("-order")
	if err != nil || empty.Len() != 0 {
		t.Fatalf("expected known field accepted on empty set: %v", err)
	}
}

func TestFilterAndFilterPK(t *testing.T) {
	s := New(meta, item{id: "a", order: 1}, item{id: "b", order: 2}, item{id: "c", order: 3})
	odd := s.Filter(func(it item) bool { return it.order%2 == 1 })
	if got := ids(odd.Items()); !equal(got, []string{"a", "c"}) {
		t.Fatalf("unexpected filter result: %v", got)
	}
	picked := s.FilterPK("c", "a", "zzz")
	if got := ids(picked.Items()); !equal(got, []string{"a", "c"}) {
		t.Fatalf("unexpected pk filter: %v", got)
	}
	if s.FilterPK().Count() != 0 {
		t.Fatalf("expected empty pk filter to match nothing")
	}
}

func TestPage(t *testing.T) {
	s := New(meta, item{id: "a"}, item{id: "b"}, item{id: "c"}, item{id: "d"}, item{id: "e"})
	page, total := s.Page(1, 2)
	if total != 5 || !equal(ids(page), []string{"b", "c"}) {
		t.Fatalf("unexpected page: %v total=%d", ids(page), total)
	}
	page, _ = s.Page(4, 10)
	if !equal(ids(page), []string{"e"}) {
		t.Fatalf("unexpected tail page: %v", ids(page))
	}
	page, _ = s.Page(9, 2)
	if len(page) != 0 {
		t.Fatalf("expected empty page past the end")
	}
	page, _ = s.Page(-3, 0)
	if len(page) != 5 {
		t.Fatalf("expected everything for unbounded page")
	}
}

func TestMetaAndNoops(t *testing.T) {
	s := New(meta, item{id: "a"})
	if s.VerboseName() != "job" || s.VerboseNamePlural() != "jobs" {
		t.Fatalf("unexpected names: %s %s", s.VerboseName(), s.VerboseNamePlural())
	}
	q := New[item](Meta{VerboseName: "queue", VerboseNamePlural: "queues list"})
	if q.VerboseNamePlural() != "queues list" {
		t.Fatalf("expected explicit plural")
	}
	if s.All() != s || s.Distinct("id") != s || s.SelectRelated() != s {
		t.Fatalf("expected no-op methods to return the receiver")
	}
	c := s.Clone()
	c.Append(item{id: "b"})
	if s.Count() != 1 || c.Count() != 2 {
		t.Fatalf("clone must be independent")
	}
}
