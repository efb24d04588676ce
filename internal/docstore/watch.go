package docstore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/storage"
)

// DefaultPollInterval is the fallback re-query period of live queries when no
// change notification arrives.
const DefaultPollInterval = 500 * time.Millisecond

// Watcher turns queries into live subscriptions. A query is re-run when the
// change bus reports a write to a covered collection and on every poll tick;
// a snapshot is delivered only when the result set (ids, versions, order) changed.
type Watcher struct {
	src      Reader
	bus      storage.ChangeBus
	interval time.Duration
	metrics  *Metrics
}

func NewWatcher(src Reader, bus storage.ChangeBus, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{src: src, bus: bus, interval: interval}
}

func (w *Watcher) WithMetrics(m *Metrics) *Watcher {
	w.metrics = m
	return w
}

func (w *Watcher) Interval() time.Duration { return w.interval }

// Reader exposes the store the watcher queries.
func (w *Watcher) Reader() Reader { return w.src }

// Subscription delivers full replacement snapshots on C until cancelled.
type Subscription struct {
	c      chan []Document
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

// C is closed when the subscription ends.
func (s *Subscription) C() <-chan []Document { return s.c }

// Cancel stops the subscription and waits for the delivery goroutine to exit.
// No snapshot is delivered once Cancel has returned.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed when the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Watch starts a live query. The first snapshot is delivered right away,
// including an empty one.
func (w *Watcher) Watch(ctx context.Context, q Query) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		c:      make(chan []Document),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if err := q.Validate(); err != nil {
		s.setErr(err)
		close(s.c)
		close(s.done)
		return s
	}
	go w.run(ctx, q, s)
	return s
}

func (w *Watcher) run(ctx context.Context, q Query, s *Subscription) {
	defer close(s.done)
	defer close(s.c)
	if w.metrics != nil {
		w.metrics.liveQueries.Inc()
		defer w.metrics.liveQueries.Dec()
	}

	var changes <-chan string
	if w.bus != nil {
		ch, err := w.bus.Subscribe(ctx)
		if err != nil {
			logger.Warnf("docstore: watch %s without change bus: %v", q, err)
		} else {
			changes = ch
		}
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := ""
	delivered := false
	poll := func() bool {
		docs, err := w.src.Query(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if errors.Is(err, ErrUnavailable) {
				logger.Warnf("docstore: watch %s: %v", q, err)
				return true
			}
			logger.Errorf("docstore: watch %s stopped: %v", q, err)
			s.setErr(err)
			return false
		}
		fp := fingerprint(docs)
		if delivered && fp == last {
			return true
		}
		select {
		case s.c <- docs:
			delivered = true
			last = fp
			if w.metrics != nil {
				w.metrics.snapshots.Inc()
			}
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !poll() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !poll() {
				return
			}
		case path, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if q.Covers(path) && !poll() {
				return
			}
		}
	}
}

func fingerprint(docs []Document) string {
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.Key())
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(d.Version, 10))
		b.WriteByte(';')
	}
	return b.String()
}
