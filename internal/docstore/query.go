package docstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// FieldID addresses the document id in filters and ordering.
const FieldID = "__id__"

// PrefixSuffix closes a prefix range: [q, q+PrefixSuffix) matches every string starting with q.
const PrefixSuffix = "\uf8ff"

// FilterOp is a comparison or a boolean combinator.
type FilterOp int

const (
	FilterEq FilterOp = iota + 1
	FilterIn
	FilterArrayContains
	FilterGt
	FilterGte
	FilterLt
	FilterLte
	FilterAnd
	FilterOr
)

// Filter is a predicate tree over document fields. The zero value matches everything.
type Filter struct {
	Op     FilterOp
	Field  string
	Value  any
	Values []any
	Sub    []Filter
}

func cmp(op FilterOp, field string, v any) Filter {
	nv, err := normalizeValue(v)
	if err != nil {
		nv = v
	}
	return Filter{Op: op, Field: field, Value: nv}
}

func Eq(field string, v any) Filter            { return cmp(FilterEq, field, v) }
func ArrayContains(field string, v any) Filter { return cmp(FilterArrayContains, field, v) }
func Gt(field string, v any) Filter            { return cmp(FilterGt, field, v) }
func Gte(field string, v any) Filter           { return cmp(FilterGte, field, v) }
func Lt(field string, v any) Filter            { return cmp(FilterLt, field, v) }
func Lte(field string, v any) Filter           { return cmp(FilterLte, field, v) }

// In matches when the field equals any of values.
func In[T any](field string, values []T) Filter {
	out := make([]any, 0, len(values))
	for _, v := range values {
		nv, err := normalizeValue(v)
		if err != nil {
			nv = v
		}
		out = append(out, nv)
	}
	return Filter{Op: FilterIn, Field: field, Values: out}
}

// Prefix matches strings in the range [prefix, prefix+PrefixSuffix).
func Prefix(field, prefix string) Filter {
	return And(Gte(field, prefix), Lt(field, prefix+PrefixSuffix))
}

func And(fs ...Filter) Filter { return combine(FilterAnd, fs) }
func Or(fs ...Filter) Filter  { return combine(FilterOr, fs) }

func combine(op FilterOp, fs []Filter) Filter {
	sub := make([]Filter, 0, len(fs))
	for _, f := range fs {
		if f.IsZero() {
			continue
		}
		sub = append(sub, f)
	}
	switch len(sub) {
	case 0:
		return Filter{}
	case 1:
		return sub[0]
	}
	return Filter{Op: op, Sub: sub}
}

func (f Filter) IsZero() bool { return f.Op == 0 }

func (f Filter) validate() error {
	switch f.Op {
	case 0:
		return nil
	case FilterAnd, FilterOr:
		if len(f.Sub) == 0 {
			return fmt.Errorf("%w: empty boolean filter", ErrInvalidArgument)
		}
		for _, s := range f.Sub {
			if err := s.validate(); err != nil {
				return err
			}
		}
		return nil
	case FilterEq, FilterIn, FilterArrayContains, FilterGt, FilterGte, FilterLt, FilterLte:
		if f.Field == "" {
			return fmt.Errorf("%w: filter without field", ErrInvalidArgument)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown filter op %d", ErrInvalidArgument, f.Op)
	}
}

// Match evaluates the filter against a document.
func (f Filter) Match(d Document) bool {
	switch f.Op {
	case 0:
		return true
	case FilterAnd:
		for _, s := range f.Sub {
			if !s.Match(d) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, s := range f.Sub {
			if s.Match(d) {
				return true
			}
		}
		return false
	}
	v, ok := fieldValue(d, f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case FilterEq:
		return equalValues(v, f.Value)
	case FilterIn:
		return containsValue(f.Values, v)
	case FilterArrayContains:
		arr, ok := v.([]any)
		return ok && containsValue(arr, f.Value)
	case FilterGt, FilterGte, FilterLt, FilterLte:
		c, ok := compareSameType(v, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case FilterGt:
			return c > 0
		case FilterGte:
			return c >= 0
		case FilterLt:
			return c < 0
		default:
			return c <= 0
		}
	}
	return false
}

func fieldValue(d Document, field string) (any, bool) {
	if field == FieldID {
		return d.ID, true
	}
	return lookupPath(d.Data, strings.Split(field, "."))
}

// Direction of an ordering clause.
type Direction int

const (
	Asc Direction = iota
	Desc
)

type Order struct {
	Field string
	Dir   Direction
}

// Query selects documents of one collection, or of every collection with the
// same name when Group is set.
type Query struct {
	Path    string
	Group   bool
	Where   Filter
	OrderBy []Order
	Limit   int
}

func Collection(path string) Query { return Query{Path: path} }

// CollectionGroup queries all collections named name, at any depth.
func CollectionGroup(name string) Query { return Query{Path: name, Group: true} }

// Filter adds a predicate, combined with the existing one by AND.
func (q Query) Filter(f Filter) Query {
	q.Where = And(q.Where, f)
	return q
}

func (q Query) Order(field string, dir Direction) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), Order{Field: field, Dir: dir})
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

func (q Query) Validate() error {
	if q.Group {
		if q.Path == "" || strings.Contains(q.Path, "/") {
			return fmt.Errorf("%w: bad collection group %q", ErrInvalidArgument, q.Path)
		}
	} else if !validCollectionPath(q.Path) {
		return fmt.Errorf("%w: bad collection path %q", ErrInvalidArgument, q.Path)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidArgument)
	}
	for _, o := range q.OrderBy {
		if o.Field == "" {
			return fmt.Errorf("%w: order without field", ErrInvalidArgument)
		}
	}
	return q.Where.validate()
}

// Covers reports whether a write to the collection path may change the result.
func (q Query) Covers(path string) bool {
	if q.Group {
		return GroupName(path) == q.Path
	}
	return path == q.Path
}

func (q Query) String() string {
	kind := "collection"
	if q.Group {
		kind = "group"
	}
	return fmt.Sprintf("%s(%s)", kind, q.Path)
}

// Evaluate filters, orders and limits docs in memory. Ties are broken by path and id.
func Evaluate(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Where.Match(d) {
			out = append(out, d)
		}
	}
	SortDocuments(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func SortDocuments(docs []Document, orders []Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orders {
			a, _ := fieldValue(docs[i], o.Field)
			b, _ := fieldValue(docs[j], o.Field)
			c := compareOrdered(a, b)
			if c == 0 {
				continue
			}
			if o.Dir == Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].Key() < docs[j].Key()
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func compareSameType(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

// typeRank orders values of different types: missing < bool < number < string < other.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	return 4
}

func compareOrdered(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if ra == 1 {
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	c, _ := compareSameType(a, b)
	return c
}
