// Package memory is an in-process docstore backend used by -dev runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatcore/internal/docstore"
)

type key struct {
	path string
	id   string
}

type record struct {
	data    map[string]any
	version int64
	updated time.Time
}

// Store keeps documents in maps guarded by one mutex. Versions come from a
// store-wide sequence, so a deleted and re-created document never repeats a version.
type Store struct {
	mu    sync.RWMutex
	cols  map[string]map[string]*record
	seq   int64
	now   func() time.Time
	fault func(op string) error
}

func New() *Store {
	return &Store{
		cols: make(map[string]map[string]*record),
		now:  time.Now,
	}
}

// SetFault installs a hook called before every operation ("get", "query",
// "batch", "commit"); a non-nil result fails the operation. Used in tests.
func (s *Store) SetFault(f func(op string) error) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

func (s *Store) checkFault(op string) error {
	s.mu.RLock()
	f := s.fault
	s.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f(op)
}

func (s *Store) Close() error { return nil }

func (s *Store) Get(ctx context.Context, path, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	if err := s.checkFault("get"); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.cols[path][id]
	if r == nil {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", path, id, docstore.ErrNotFound)
	}
	return toDocument(path, id, r), nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkFault("query"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := make([]docstore.Document, 0)
	for path, col := range s.cols {
		if !q.Covers(path) {
			continue
		}
		for id, r := range col {
			docs = append(docs, toDocument(path, id, r))
		}
	}
	s.mu.RUnlock()
	return docstore.Evaluate(docs, q), nil
}

func (s *Store) Batch(ctx context.Context, ops ...docstore.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := docstore.ValidateOps(ops); err != nil {
		return err
	}
	if err := s.checkFault("batch"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ops)
}

// RunTransaction runs fn once. Every document read through the txn (including
// reads of absent documents) must be unchanged at commit or ErrConflict is returned.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxnFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &txn{store: s, reads: make(map[key]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := docstore.ValidateOps(tx.ops); err != nil {
		return err
	}
	if err := s.checkFault("commit"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range tx.reads {
		var cur int64
		if r := s.cols[k.path][k.id]; r != nil {
			cur = r.version
		}
		if cur != v {
			return fmt.Errorf("%s/%s changed: %w", k.path, k.id, docstore.ErrConflict)
		}
	}
	return s.applyLocked(tx.ops)
}

// applyLocked stages ops in an overlay and commits it only if every op succeeds.
func (s *Store) applyLocked(ops []docstore.Op) error {
	overlay := make(map[key]*record, len(ops))
	order := make([]key, 0, len(ops))
	lookup := func(k key) *record {
		if r, ok := overlay[k]; ok {
			return r
		}
		return s.cols[k.path][k.id]
	}
	stage := func(k key, r *record) {
		if _, ok := overlay[k]; !ok {
			order = append(order, k)
		}
		overlay[k] = r
	}
	for _, op := range ops {
		k := key{path: op.Path, id: op.ID}
		switch op.Kind {
		case docstore.OpSet:
			stage(k, &record{data: docstore.CopyData(op.Data)})
		case docstore.OpCreate:
			if lookup(k) != nil {
				return fmt.Errorf("%s/%s: %w", op.Path, op.ID, docstore.ErrAlreadyExists)
			}
			stage(k, &record{data: docstore.CopyData(op.Data)})
		case docstore.OpUpdate:
			cur := lookup(k)
			if cur == nil {
				return fmt.Errorf("%s/%s: %w", op.Path, op.ID, docstore.ErrNotFound)
			}
			data, err := docstore.ApplyUpdates(cur.data, op.Updates)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", op.Path, op.ID, err)
			}
			stage(k, &record{data: data})
		case docstore.OpDelete:
			stage(k, nil)
		default:
			return fmt.Errorf("%w: op kind %d", docstore.ErrInvalidArgument, op.Kind)
		}
	}
	now := s.now()
	for _, k := range order {
		r := overlay[k]
		if r == nil {
			if col := s.cols[k.path]; col != nil {
				delete(col, k.id)
			}
			continue
		}
		s.seq++
		r.version = s.seq
		r.updated = now
		col := s.cols[k.path]
		if col == nil {
			col = make(map[string]*record)
			s.cols[k.path] = col
		}
		col[k.id] = r
	}
	return nil
}

// Len returns the number of documents in a collection.
func (s *Store) Len(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cols[path])
}

type txn struct {
	store *Store
	mu    sync.Mutex
	reads map[key]int64
	ops   []docstore.Op
}

func (t *txn) Get(ctx context.Context, path, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	if err := t.store.checkFault("get"); err != nil {
		return docstore.Document{}, err
	}
	t.store.mu.RLock()
	r := t.store.cols[path][id]
	var doc docstore.Document
	var version int64
	if r != nil {
		doc = toDocument(path, id, r)
		version = r.version
	}
	t.store.mu.RUnlock()

	t.mu.Lock()
	k := key{path: path, id: id}
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = version
	}
	t.mu.Unlock()
	if r == nil {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", path, id, docstore.ErrNotFound)
	}
	return doc, nil
}

func (t *txn) Stage(ops ...docstore.Op) {
	t.mu.Lock()
	t.ops = append(t.ops, ops...)
	t.mu.Unlock()
}

func toDocument(path, id string, r *record) docstore.Document {
	return docstore.Document{
		Path:      path,
		ID:        id,
		Data:      docstore.CopyData(r.data),
		Version:   r.version,
		UpdatedAt: r.updated,
	}
}
