package docstore

import (
	"context"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/storage"
)

const publishTimeout = 2 * time.Second

// Notifying publishes the collections touched by every successful write to a
// change bus, so live queries re-run without waiting for their poll interval.
type Notifying struct {
	inner Store
	bus   storage.ChangeBus
}

func WithNotifications(inner Store, bus storage.ChangeBus) *Notifying {
	return &Notifying{inner: inner, bus: bus}
}

func (n *Notifying) Get(ctx context.Context, path, id string) (Document, error) {
	return n.inner.Get(ctx, path, id)
}

func (n *Notifying) Query(ctx context.Context, q Query) ([]Document, error) {
	return n.inner.Query(ctx, q)
}

func (n *Notifying) Batch(ctx context.Context, ops ...Op) error {
	if err := n.inner.Batch(ctx, ops...); err != nil {
		return err
	}
	n.publish(ctx, touchedPaths(ops))
	return nil
}

func (n *Notifying) RunTransaction(ctx context.Context, fn TxnFunc) error {
	var staged []Op
	err := n.inner.RunTransaction(ctx, func(ctx context.Context, tx Txn) error {
		rec := &recordingTxn{Txn: tx}
		if err := fn(ctx, rec); err != nil {
			return err
		}
		staged = rec.ops
		return nil
	})
	if err != nil {
		return err
	}
	n.publish(ctx, touchedPaths(staged))
	return nil
}

func (n *Notifying) Close() error { return n.inner.Close() }

// publish does not fail the write: the commit already happened and watchers
// fall back to polling.
func (n *Notifying) publish(ctx context.Context, paths []string) {
	if n.bus == nil || len(paths) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, p := range paths {
		if err := n.bus.Publish(ctx, p); err != nil {
			logger.Warnf("docstore: publish change of %s: %v", p, err)
		}
	}
}

type recordingTxn struct {
	Txn
	ops []Op
}

func (r *recordingTxn) Stage(ops ...Op) {
	r.ops = append(r.ops, ops...)
	r.Txn.Stage(ops...)
}
