package docstore

import (
	"fmt"
	"strings"
)

// OpKind is the kind of a write operation inside a batch or transaction.
type OpKind int

const (
	// OpSet writes the whole document, creating it if absent.
	OpSet OpKind = iota + 1
	// OpCreate writes a new document and fails with ErrAlreadyExists if present.
	OpCreate
	// OpUpdate changes fields of an existing document, ErrNotFound if absent.
	OpUpdate
	// OpDelete removes a document; deleting an absent document is not an error.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one write. Ops in a batch are applied in order, all or nothing.
type Op struct {
	Kind    OpKind
	Path    string
	ID      string
	Data    map[string]any
	Updates []FieldUpdate
	err     error
}

// Err reports a construction error (e.g. a value that cannot be encoded).
func (o Op) Err() error {
	if o.err != nil {
		return o.err
	}
	if !validCollectionPath(o.Path) {
		return fmt.Errorf("%w: bad collection path %q", ErrInvalidArgument, o.Path)
	}
	if !validDocID(o.ID) {
		return fmt.Errorf("%w: bad document id %q", ErrInvalidArgument, o.ID)
	}
	if o.Kind == OpUpdate && len(o.Updates) == 0 {
		return fmt.Errorf("%w: empty update of %s/%s", ErrInvalidArgument, o.Path, o.ID)
	}
	for _, u := range o.Updates {
		if err := u.validate(); err != nil {
			return err
		}
	}
	return nil
}

func Set(path, id string, v any) Op {
	data, err := ToData(v)
	return Op{Kind: OpSet, Path: path, ID: id, Data: data, err: err}
}

func Create(path, id string, v any) Op {
	data, err := ToData(v)
	return Op{Kind: OpCreate, Path: path, ID: id, Data: data, err: err}
}

func Update(path, id string, updates ...FieldUpdate) Op {
	return Op{Kind: OpUpdate, Path: path, ID: id, Updates: updates}
}

func Delete(path, id string) Op {
	return Op{Kind: OpDelete, Path: path, ID: id}
}

// IncrementOp is the atomic counter primitive: field += delta on an existing document.
func IncrementOp(path, id, field string, delta int64) Op {
	return Update(path, id, Increment(field, delta))
}

// UpdateKind is the kind of a single field change.
type UpdateKind int

const (
	UpdateAssign UpdateKind = iota + 1
	UpdateIncrement
	UpdateArrayUnion
)

// FieldUpdate changes one (possibly dotted, e.g. "groupInfo.name") field.
type FieldUpdate struct {
	Kind   UpdateKind
	Field  string
	Value  any
	Delta  int64
	Values []any
	err    error
}

func (u FieldUpdate) validate() error {
	if u.err != nil {
		return u.err
	}
	if u.Field == "" || u.Field == FieldID {
		return fmt.Errorf("%w: bad field %q", ErrInvalidArgument, u.Field)
	}
	for _, p := range strings.Split(u.Field, ".") {
		if p == "" {
			return fmt.Errorf("%w: bad field %q", ErrInvalidArgument, u.Field)
		}
	}
	return nil
}

// Path returns the dotted field split into segments.
func (u FieldUpdate) Path() []string {
	return strings.Split(u.Field, ".")
}

func Assign(field string, v any) FieldUpdate {
	nv, err := normalizeValue(v)
	return FieldUpdate{Kind: UpdateAssign, Field: field, Value: nv, err: err}
}

func Increment(field string, delta int64) FieldUpdate {
	return FieldUpdate{Kind: UpdateIncrement, Field: field, Delta: delta}
}

// ArrayUnion appends values that are not yet present in the array field.
func ArrayUnion(field string, values ...any) FieldUpdate {
	out := make([]any, 0, len(values))
	var err error
	for _, v := range values {
		nv, e := normalizeValue(v)
		if e != nil {
			err = e
			break
		}
		out = append(out, nv)
	}
	return FieldUpdate{Kind: UpdateArrayUnion, Field: field, Values: out, err: err}
}

// ApplyUpdates returns a copy of data with updates applied. Backends that
// lock the row before calling it get atomic field updates.
func ApplyUpdates(data map[string]any, updates []FieldUpdate) (map[string]any, error) {
	out := CopyData(data)
	if out == nil {
		out = map[string]any{}
	}
	for _, u := range updates {
		if err := u.validate(); err != nil {
			return nil, err
		}
		path := u.Path()
		switch u.Kind {
		case UpdateAssign:
			setPath(out, path, deepCopy(u.Value))
		case UpdateIncrement:
			cur, _ := lookupPath(out, path)
			n, ok := toFloat(cur)
			if cur != nil && !ok {
				return nil, fmt.Errorf("%w: field %q is not a number", ErrInvalidArgument, u.Field)
			}
			setPath(out, path, n+float64(u.Delta))
		case UpdateArrayUnion:
			cur, _ := lookupPath(out, path)
			arr, ok := cur.([]any)
			if cur != nil && !ok {
				return nil, fmt.Errorf("%w: field %q is not an array", ErrInvalidArgument, u.Field)
			}
			arr = append([]any(nil), arr...)
			for _, v := range u.Values {
				if !containsValue(arr, v) {
					arr = append(arr, deepCopy(v))
				}
			}
			setPath(out, path, arr)
		default:
			return nil, fmt.Errorf("%w: unknown update kind %d", ErrInvalidArgument, u.Kind)
		}
	}
	return out, nil
}

func setPath(m map[string]any, path []string, v any) {
	for i, p := range path {
		if i == len(path)-1 {
			m[p] = v
			return
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
}

func lookupPath(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func containsValue(arr []any, v any) bool {
	for _, x := range arr {
		if equalValues(x, v) {
			return true
		}
	}
	return false
}

// touchedPaths returns distinct collection paths written by ops.
func touchedPaths(ops []Op) []string {
	seen := make(map[string]struct{}, len(ops))
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		if _, ok := seen[op.Path]; ok {
			continue
		}
		seen[op.Path] = struct{}{}
		out = append(out, op.Path)
	}
	return out
}
