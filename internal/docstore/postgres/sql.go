package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/chatcore/internal/docstore"
)

const selectCols = "collection, id, data, version, updated_at"

// sqlBuilder collects positional arguments while a statement is rendered.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// buildQuery renders a docstore query over the documents table.
func buildQuery(q docstore.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	var sb strings.Builder
	sb.WriteString("SELECT " + selectCols + " FROM documents WHERE ")
	if q.Group {
		sb.WriteString("coll_group = " + b.arg(q.Path))
	} else {
		sb.WriteString("collection = " + b.arg(q.Path))
	}
	if !q.Where.IsZero() {
		cond, err := b.filter(q.Where)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" AND " + cond)
	}
	sb.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		sb.WriteString(b.orderExpr(o.Field))
		if o.Dir == docstore.Desc {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", ")
	}
	sb.WriteString("collection, id")
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + b.arg(q.Limit))
	}
	return sb.String(), b.args, nil
}

func (b *sqlBuilder) orderExpr(field string) string {
	if field == docstore.FieldID {
		return `id COLLATE "C"`
	}
	return "data #> " + b.arg(fieldPath(field)) + "::text[]"
}

func (b *sqlBuilder) filter(f docstore.Filter) (string, error) {
	switch f.Op {
	case docstore.FilterAnd, docstore.FilterOr:
		sep := " AND "
		if f.Op == docstore.FilterOr {
			sep = " OR "
		}
		parts := make([]string, 0, len(f.Sub))
		for _, s := range f.Sub {
			p, err := b.filter(s)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	}
	if f.Field == docstore.FieldID {
		return b.idFilter(f)
	}
	path := b.arg(fieldPath(f.Field)) + "::text[]"
	switch f.Op {
	case docstore.FilterEq:
		v, err := jsonText(f.Value)
		if err != nil {
			return "", err
		}
		return "data #> " + path + " = " + b.arg(v) + "::jsonb", nil
	case docstore.FilterIn:
		if len(f.Values) == 0 {
			return "FALSE", nil
		}
		parts := make([]string, 0, len(f.Values))
		for _, val := range f.Values {
			v, err := jsonText(val)
			if err != nil {
				return "", err
			}
			parts = append(parts, "data #> "+path+" = "+b.arg(v)+"::jsonb")
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case docstore.FilterArrayContains:
		v, err := jsonText([]any{f.Value})
		if err != nil {
			return "", err
		}
		return "(jsonb_typeof(data #> " + path + ") = 'array' AND data #> " + path + " @> " + b.arg(v) + "::jsonb)", nil
	case docstore.FilterGt, docstore.FilterGte, docstore.FilterLt, docstore.FilterLte:
		op := rangeOp(f.Op)
		switch v := f.Value.(type) {
		case string:
			return "(CASE WHEN jsonb_typeof(data #> " + path + ") = 'string' THEN data #>> " + path + ` END) COLLATE "C" ` + op + " " + b.arg(v) + "::text", nil
		default:
			n, ok := number(v)
			if !ok {
				return "", fmt.Errorf("%w: range filter on %q needs a string or number", docstore.ErrInvalidArgument, f.Field)
			}
			return "(CASE WHEN jsonb_typeof(data #> " + path + ") = 'number' THEN (data #>> " + path + ")::float8 END) " + op + " " + b.arg(n) + "::float8", nil
		}
	default:
		return "", fmt.Errorf("%w: filter op %d", docstore.ErrInvalidArgument, f.Op)
	}
}

func (b *sqlBuilder) idFilter(f docstore.Filter) (string, error) {
	switch f.Op {
	case docstore.FilterEq:
		s, ok := f.Value.(string)
		if !ok {
			return "FALSE", nil
		}
		return "id = " + b.arg(s), nil
	case docstore.FilterIn:
		ids := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
		return "id = ANY(" + b.arg(ids) + "::text[])", nil
	case docstore.FilterGt, docstore.FilterGte, docstore.FilterLt, docstore.FilterLte:
		s, ok := f.Value.(string)
		if !ok {
			return "FALSE", nil
		}
		return `id COLLATE "C" ` + rangeOp(f.Op) + " " + b.arg(s), nil
	default:
		return "", fmt.Errorf("%w: filter op %d on document id", docstore.ErrInvalidArgument, f.Op)
	}
}

func rangeOp(op docstore.FilterOp) string {
	switch op {
	case docstore.FilterGt:
		return ">"
	case docstore.FilterGte:
		return ">="
	case docstore.FilterLt:
		return "<"
	default:
		return "<="
	}
}

func fieldPath(field string) []string {
	return strings.Split(field, ".")
}

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
	}
	return string(b), nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
