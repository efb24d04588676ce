// Package postgres stores documents in one JSONB table (see migrations/).
//
// Field updates lock the row (SELECT ... FOR UPDATE) and apply the change in
// the same transaction, so increments never lose concurrent updates.
// Optimistic transactions take an advisory lock per document read, re-check
// its version and only then apply the staged writes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/logger"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, path, id string) (docstore.Document, error) {
	defer logger.DeferLogDuration("pgstore.Get", time.Now())()
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectCols+` FROM documents WHERE collection = $1 AND id = $2`, path, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", path, id, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("pgstore.Get: %w", mapErr(err))
	}
	return doc, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	defer logger.DeferLogDuration("pgstore.Query", time.Now())()
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore.Query: %w", mapErr(err))
	}
	defer rows.Close()
	docs := make([]docstore.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore.Query scan: %w", mapErr(err))
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore.Query: %w", mapErr(err))
	}
	return docs, nil
}

func (s *Store) Batch(ctx context.Context, ops ...docstore.Op) error {
	defer logger.DeferLogDuration("pgstore.Batch", time.Now())()
	if err := docstore.ValidateOps(ops); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return applyOps(ctx, tx, ops, nil)
	})
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxnFunc) error {
	defer logger.DeferLogDuration("pgstore.RunTransaction", time.Now())()
	t := &txn{store: s, reads: make(map[string]readMark)}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := docstore.ValidateOps(t.ops); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := t.validateReads(ctx, tx); err != nil {
			return err
		}
		return applyOps(ctx, tx, t.ops, t.reads)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("pgstore begin: %w", mapErr(err))
	}
	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.Warnf("pgstore rollback: %v", rbErr)
		}
	}()
	if err := fn(tx); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore commit: %w", mapErr(err))
	}
	return nil
}

// applyOps runs ops in order inside tx. reads marks documents the
// transaction saw as absent: a Create racing with another writer becomes a conflict.
func applyOps(ctx context.Context, tx pgx.Tx, ops []docstore.Op, reads map[string]readMark) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case docstore.OpSet:
			err = upsert(ctx, tx, op)
		case docstore.OpCreate:
			err = insert(ctx, tx, op)
			if errors.Is(err, docstore.ErrAlreadyExists) {
				if m, ok := reads[docKey(op.Path, op.ID)]; ok && m.version == 0 {
					err = fmt.Errorf("%s/%s created concurrently: %w", op.Path, op.ID, docstore.ErrConflict)
				}
			}
		case docstore.OpUpdate:
			err = update(ctx, tx, op)
		case docstore.OpDelete:
			_, err = tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, op.Path, op.ID)
		default:
			err = fmt.Errorf("%w: op kind %d", docstore.ErrInvalidArgument, op.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func upsert(ctx context.Context, tx pgx.Tx, op docstore.Op) error {
	data, err := json.Marshal(op.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO documents (collection, coll_group, id, data, version, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, nextval('documents_version_seq'), now())
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`,
		op.Path, docstore.GroupName(op.Path), op.ID, string(data))
	return err
}

func insert(ctx context.Context, tx pgx.Tx, op docstore.Op) error {
	data, err := json.Marshal(op.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO documents (collection, coll_group, id, data, version, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, nextval('documents_version_seq'), now())
		ON CONFLICT (collection, id) DO NOTHING`,
		op.Path, docstore.GroupName(op.Path), op.ID, string(data))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", op.Path, op.ID, docstore.ErrAlreadyExists)
	}
	return nil
}

func update(ctx context.Context, tx pgx.Tx, op docstore.Op) error {
	var raw []byte
	err := tx.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`, op.Path, op.ID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", op.Path, op.ID, docstore.ErrNotFound)
	}
	if err != nil {
		return err
	}
	var cur map[string]any
	if err := json.Unmarshal(raw, &cur); err != nil {
		return fmt.Errorf("decode %s/%s: %w", op.Path, op.ID, err)
	}
	next, err := docstore.ApplyUpdates(cur, op.Updates)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", op.Path, op.ID, err)
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE documents SET data = $3::jsonb, version = nextval('documents_version_seq'), updated_at = now()
		WHERE collection = $1 AND id = $2`, op.Path, op.ID, string(data))
	return err
}

type readMark struct {
	path    string
	id      string
	version int64
}

type txn struct {
	store *Store
	reads map[string]readMark
	ops   []docstore.Op
}

func (t *txn) Get(ctx context.Context, path, id string) (docstore.Document, error) {
	doc, err := t.store.Get(ctx, path, id)
	k := docKey(path, id)
	if _, seen := t.reads[k]; !seen {
		switch {
		case err == nil:
			t.reads[k] = readMark{path: path, id: id, version: doc.Version}
		case errors.Is(err, docstore.ErrNotFound):
			t.reads[k] = readMark{path: path, id: id}
		}
	}
	return doc, err
}

func (t *txn) Stage(ops ...docstore.Op) {
	t.ops = append(t.ops, ops...)
}

// validateReads locks every document read (in key order to avoid deadlocks)
// and compares versions with the ones the transaction function saw.
func (t *txn) validateReads(ctx context.Context, tx pgx.Tx) error {
	keys := make([]string, 0, len(t.reads))
	for k := range t.reads {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := t.reads[k]
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return err
		}
		var version int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`, m.path, m.id).Scan(&version)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if version != m.version {
			return fmt.Errorf("%s changed: %w", k, docstore.ErrConflict)
		}
	}
	return nil
}

func docKey(path, id string) string {
	return path + "/" + id
}

func scanDocument(s interface{ Scan(dest ...any) error }) (docstore.Document, error) {
	var d docstore.Document
	var raw []byte
	if err := s.Scan(&d.Path, &d.ID, &raw, &d.Version, &d.UpdatedAt); err != nil {
		return d, err
	}
	if err := json.Unmarshal(raw, &d.Data); err != nil {
		return d, fmt.Errorf("decode %s/%s: %w", d.Path, d.ID, err)
	}
	return d, nil
}
