// Package docstore is a small document database abstraction: collections of
// JSON-like documents addressed by path, atomic batches, optimistic
// transactions, atomic field increments and live queries.
//
// Backends live in subpackages (memory, postgres, mongo). Cross-cutting
// behaviour is layered with wrappers: WithNotifications publishes changed
// collections to a change bus, WithRetry bounds retries, Instrument records
// Prometheus metrics.
package docstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("docstore: not found")
	ErrAlreadyExists   = errors.New("docstore: already exists")
	ErrConflict        = errors.New("docstore: transaction conflict")
	ErrUnavailable     = errors.New("docstore: store unavailable")
	ErrInvalidArgument = errors.New("docstore: invalid argument")
)

// Reader is the read side of a store.
type Reader interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, path, id string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
}

// Txn is handed to a transaction function. Reads go through Get and are
// validated at commit; writes are staged and applied atomically at commit.
// Staged writes are not visible to reads in the same transaction.
type Txn interface {
	Get(ctx context.Context, path, id string) (Document, error)
	Stage(ops ...Op)
}

type TxnFunc func(ctx context.Context, tx Txn) error

type Store interface {
	Reader
	// Batch applies ops in order as one atomic unit.
	Batch(ctx context.Context, ops ...Op) error
	// RunTransaction runs fn once and commits its staged ops if every document
	// read is unchanged, otherwise returns ErrConflict. WithRetry adds retries.
	RunTransaction(ctx context.Context, fn TxnFunc) error
	Close() error
}

// ValidateOps checks every op before anything is applied.
func ValidateOps(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	for _, op := range ops {
		if err := op.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Result classifies an error for logs and metrics.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
