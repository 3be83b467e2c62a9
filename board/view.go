package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"grafsys/domain"
)

// Store runs the bootstrap query.
type Store interface {
	QueryTrackedOrders(ctx context.Context) ([]domain.Order, error)
}

// Feed delivers order change notifications.
type Feed interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a live registration on a Feed. Close cancels it.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}

// Notifier receives the new snapshot once per batch that changed the board.
type Notifier interface {
	BoardChanged(snap *Snapshot)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(snap *Snapshot)

func (f NotifierFunc) BoardChanged(snap *Snapshot) { f(snap) }

// Snapshot is an immutable copy of the board published after each batch.
type Snapshot struct {
	Version uint64
	Buckets Buckets
}

// Orders returns the bucket for s.
func (s *Snapshot) Orders(status domain.Status) []domain.Order {
	return s.Buckets[status]
}

// Options configure a View.
type Options struct {
	Logger   log.FieldLogger
	Notifier Notifier
	// MaxBatch bounds how many queued events are folded into one batch.
	MaxBatch int
}

const defaultMaxBatch = 256

// ErrStreamClosed is reported by Err when the feed ended the subscription.
var ErrStreamClosed = errors.New("order change stream closed")

// View is an open board: a bucket model bootstrapped from the store and kept
// current by a reconciler goroutine fed from the change stream.
type View struct {
	sub      Subscription
	rec      *Reconciler
	logger   log.FieldLogger
	notifier Notifier
	maxBatch int

	snap    atomic.Pointer[Snapshot]
	version uint64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	err       atomic.Pointer[error]
}

// Open subscribes to order changes, loads the tracked orders and starts
// reconciling. Subscribing first means no change made during the bootstrap
// query is lost; replays of already loaded orders are absorbed by the
// reconciler. A failed bootstrap returns an error and may be retried.
func Open(ctx context.Context, store Store, feed Feed, opts Options) (*View, error) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaultMaxBatch
	}
	sub, err := feed.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to order changes: %w", err)
	}
	orders, err := store.QueryTrackedOrders(ctx)
	if err != nil {
		if cerr := sub.Close(); cerr != nil {
			opts.Logger.WithError(cerr).Warn("close subscription after failed bootstrap")
		}
		return nil, fmt.Errorf("query tracked orders: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	v := &View{
		sub:      sub,
		rec:      NewReconciler(Bootstrap(orders), opts.Logger),
		logger:   opts.Logger,
		notifier: opts.Notifier,
		maxBatch: opts.MaxBatch,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	v.publish()
	v.logger.WithField("orders", len(orders)).Info("board view opened")
	go v.run(runCtx)
	return v, nil
}

// Snapshot returns the latest published board.
func (v *View) Snapshot() *Snapshot {
	return v.snap.Load()
}

// Done is closed once the view stops reconciling.
func (v *View) Done() <-chan struct{} {
	return v.done
}

// Err returns ErrStreamClosed when the view stopped because the feed ended.
func (v *View) Err() error {
	if p := v.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Close unsubscribes and waits for the reconciler to stop. The board is not
// mutated after Close returns.
func (v *View) Close() error {
	v.closeOnce.Do(func() {
		v.cancel()
		v.closeErr = v.sub.Close()
		<-v.done
		v.logger.Info("board view closed")
	})
	return v.closeErr
}

func (v *View) run(ctx context.Context) {
	defer close(v.done)
	events := v.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					err := ErrStreamClosed
					v.err.Store(&err)
					v.logger.Warn("order change stream closed")
				}
				return
			}
			batch := v.drain(ev, events)
			if ctx.Err() != nil {
				return
			}
			if !v.rec.Apply(batch) {
				continue
			}
			snap := v.publish()
			v.logger.WithFields(log.Fields{"events": len(batch), "version": snap.Version}).Debug("board changed")
			if v.notifier != nil {
				v.notifier.BoardChanged(snap)
			}
		}
	}
}

// drain collects the events already queued behind first.
func (v *View) drain(first domain.ChangeEvent, events <-chan domain.ChangeEvent) []domain.ChangeEvent {
	batch := []domain.ChangeEvent{first}
	for len(batch) < v.maxBatch {
		select {
		case ev, ok := <-events:
			if !ok {
				return batch
			}
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (v *View) publish() *Snapshot {
	v.version++
	snap := &Snapshot{Version: v.version, Buckets: v.rec.Buckets()}
	v.snap.Store(snap)
	return snap
}
