package docstore

import (
	"sort"
	"strings"
	"time"
)

// Op is a filter comparison.
type Op string

const (
	OpEq     Op = "=="
	OpNe     Op = "!="
	OpLt     Op = "<"
	OpLte    Op = "<="
	OpGt     Op = ">"
	OpGte    Op = ">="
	OpIn     Op = "in"
	OpPrefix Op = "prefix"
)

// Filter is one predicate of a query; a query is the conjunction of its
// filters.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Filter  { return Filter{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Filter  { return Filter{Field: field, Op: OpNe, Value: v} }
func Lt(field string, v any) Filter  { return Filter{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Filter { return Filter{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) Filter  { return Filter{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Filter { return Filter{Field: field, Op: OpGte, Value: v} }

// In matches documents whose field equals any of values.
func In[T any](field string, values ...T) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{Field: field, Op: OpIn, Value: vs}
}

// InOrUnset is In that also matches documents where field is missing, null
// or the empty string.
func InOrUnset(field string, values ...string) Filter {
	vs := make([]any, 0, len(values)+2)
	vs = append(vs, nil, "")
	for _, v := range values {
		vs = append(vs, v)
	}
	return Filter{Field: field, Op: OpIn, Value: vs}
}

// Prefix matches string fields starting with term. It is the only text
// search the store offers.
func Prefix(field, term string) Filter { return Filter{Field: field, Op: OpPrefix, Value: term} }

// Query selects, orders and limits documents of one collection.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Where appends filters.
func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// Match reports whether doc satisfies every filter.
func (q Query) Match(doc Document) bool {
	for _, f := range q.Filters {
		if !f.match(doc) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits docs in memory. Documents missing the order
// field sort last; ties fall back to the id field.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Match(d) {
			out = append(out, d)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, aok := lookup(out[i], q.OrderBy)
			b, bok := lookup(out[j], q.OrderBy)
			switch {
			case !aok && !bok:
				return idLess(out[i], out[j], q.Desc)
			case !aok:
				return false
			case !bok:
				return true
			}
			c, ok := compare(a, b)
			if !ok || c == 0 {
				return idLess(out[i], out[j], q.Desc)
			}
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func idLess(a, b Document, desc bool) bool {
	ai, _ := a["id"].(string)
	bi, _ := b["id"].(string)
	if desc {
		return ai > bi
	}
	return ai < bi
}

func (f Filter) match(doc Document) bool {
	got, ok := lookup(doc, f.Field)
	want := normalize(f.Value)
	switch f.Op {
	case OpEq:
		return equal(got, want)
	case OpNe:
		return !equal(got, want)
	case OpIn:
		list, _ := want.([]any)
		for _, v := range list {
			if equal(got, v) {
				return true
			}
		}
		return false
	case OpPrefix:
		s, sok := got.(string)
		p, pok := want.(string)
		return ok && sok && pok && strings.HasPrefix(s, p)
	}
	if !ok {
		return false
	}
	c, cmpOK := compare(got, want)
	if !cmpOK {
		return false
	}
	switch f.Op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// lookup resolves dotted field paths through nested objects.
func lookup(doc Document, field string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if d, isDoc := cur.(Document); isDoc {
				m = d
			} else {
				return nil, false
			}
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, ok := compare(a, b)
	return ok && c == 0
}

// compare orders two JSON values of the same kind. Strings that both parse
// as RFC 3339 timestamps compare chronologically.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		if at, err := time.Parse(time.RFC3339Nano, av); err == nil {
			if bt, err := time.Parse(time.RFC3339Nano, bv); err == nil {
				return at.Compare(bt), true
			}
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}
