package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Document is a stored record addressed by its collection path and id.
// Version changes on every committed write and is used for optimistic
// transactions and change detection in live queries.
type Document struct {
	Path      string
	ID        string
	Data      map[string]any
	Version   int64
	UpdatedAt time.Time
}

// Key returns the full document path, e.g. "chats/abc/messages/m1".
func (d Document) Key() string {
	return d.Path + "/" + d.ID
}

// DataTo decodes the document data into v using its json tags.
func (d Document) DataTo(v any) error {
	b, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", d.Key(), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", d.Key(), err)
	}
	return nil
}

// ToData converts a json-tagged struct (or map) into document data.
func ToData(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return normalizeMap(m)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: value is not an object: %v", ErrInvalidArgument, err)
	}
	return m, nil
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return out, nil
}

// normalizeValue brings a Go value to the shape a document holds after
// storage: objects become map[string]any, numbers float64, slices []any.
func normalizeValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return out, nil
}

// JoinPath builds a collection or document path from segments.
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// GroupName returns the last segment of a collection path; collection group
// queries match every collection with that name.
func GroupName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func validCollectionPath(path string) bool {
	if path == "" {
		return false
	}
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func validDocID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

// deepCopy clones document data so callers never share maps with a backend.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// CopyData returns a deep copy of document data.
func CopyData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return deepCopy(m).(map[string]any)
}
