package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/goleak"

	"grafsys/domain"
)

type fakeStore struct {
	orders []domain.Order
	err    error
	calls  int
}

func (f *fakeStore) QueryTrackedOrders(ctx context.Context) ([]domain.Order, error) {
	f.calls++
	return f.orders, f.err
}

type fakeSubscription struct {
	events chan domain.ChangeEvent
	mu     sync.Mutex
	closed bool
}

func (s *fakeSubscription) Events() <-chan domain.ChangeEvent { return s.events }

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFeed struct {
	sub *fakeSubscription
	err error
}

func (f *fakeFeed) Subscribe(ctx context.Context) (Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func newFakeFeed(buffer int) *fakeFeed {
	return &fakeFeed{sub: &fakeSubscription{events: make(chan domain.ChangeEvent, buffer)}}
}

type countingNotifier struct {
	mu    sync.Mutex
	snaps []*Snapshot
	ch    chan struct{}
}

func newCountingNotifier() *countingNotifier {
	return &countingNotifier{ch: make(chan struct{}, 16)}
}

func (n *countingNotifier) BoardChanged(snap *Snapshot) {
	n.mu.Lock()
	n.snaps = append(n.snaps, snap)
	n.mu.Unlock()
	n.ch <- struct{}{}
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.snaps)
}

func (n *countingNotifier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-n.ch:
	case <-time.After(time.Second):
		t.Fatal("no board change signalled")
	}
}

func TestOpenBootstrapsSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger, _ := test.NewNullLogger()
	store := &fakeStore{orders: []domain.Order{
		order("o1", domain.StatusPrinting, due(time.Hour)),
		order("o2", domain.StatusCancelled, nil),
	}}
	feed := newFakeFeed(1)
	v, err := Open(context.Background(), store, feed, Options{Logger: logger})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	snap := v.Snapshot()
	if snap == nil || snap.Version != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Buckets.Len() != 1 || len(snap.Orders(domain.StatusPrinting)) != 1 {
		t.Fatalf("unexpected buckets: %+v", snap.Buckets)
	}
}

func TestOpenSignalsOncePerBatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger, _ := test.NewNullLogger()
	store := &fakeStore{}
	feed := newFakeFeed(8)
	feed.sub.events <- added(order("o1", domain.StatusPending, due(time.Hour)))
	feed.sub.events <- added(order("o2", domain.StatusPending, due(2*time.Hour)))
	moved := order("o1", domain.StatusPrinting, due(time.Hour))
	feed.sub.events <- modified(moved)

	notifier := newCountingNotifier()
	v, err := Open(context.Background(), store, feed, Options{Logger: logger, Notifier: notifier})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	notifier.wait(t)
	time.Sleep(50 * time.Millisecond)
	if n := notifier.count(); n != 1 {
		t.Fatalf("expected a single signal for the batch, got %d", n)
	}
	snap := v.Snapshot()
	if snap.Version != 2 {
		t.Fatalf("expected version 2, got %d", snap.Version)
	}
	checkBoard(t, snap.Buckets)
	if s, _, ok := snap.Buckets.Locate("o1"); !ok || s != domain.StatusPrinting {
		t.Fatalf("o1 not moved: %q", s)
	}
}

func TestOpenIgnoresNoopBatches(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger, _ := test.NewNullLogger()
	o := order("o1", domain.StatusPending, nil)
	store := &fakeStore{orders: []domain.Order{o}}
	feed := newFakeFeed(4)
	notifier := newCountingNotifier()
	v, err := Open(context.Background(), store, feed, Options{Logger: logger, Notifier: notifier})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()

	feed.sub.events <- added(o)
	feed.sub.events <- removed("missing")
	feed.sub.events <- removed("o1")
	notifier.wait(t)
	if v.Snapshot().Buckets.Len() != 0 {
		t.Fatal("expected empty board")
	}
	if notifier.count() < 1 {
		t.Fatal("expected a signal")
	}
}

func TestOpenBootstrapFailureClosesSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger, _ := test.NewNullLogger()
	boom := errors.New("table unavailable")
	feed := newFakeFeed(1)
	_, err := Open(context.Background(), &fakeStore{err: boom}, feed, Options{Logger: logger})
	if !errors.Is(err, boom) {
		t.Fatalf("expected bootstrap error, got %v", err)
	}
	if !feed.sub.isClosed() {
		t.Fatal("subscription left open after failed bootstrap")
	}
}

func TestOpenSubscribeFailure(t *testing.T) {
	boom := errors.New("redis down")
	store := &fakeStore{}
	_, err := Open(context.Background(), store, &fakeFeed{err: boom}, Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected subscribe error, got %v", err)
	}
	if store.calls != 0 {
		t.Fatal("bootstrap ran without a subscription")
	}
}

func TestCloseStopsMutation(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger, _ := test.NewNullLogger()
	feed := newFakeFeed(4)
	notifier := newCountingNotifier()
	v, err := Open(context.Background(), &fakeStore{}, feed, Options{Logger: logger, Notifier: notifier})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !feed.sub.isClosed() {
		t.Fatal("subscription not closed")
	}
	feed.sub.events <- added(order("late", domain.StatusPending, nil))
	time.Sleep(20 * time.Millisecond)
	if v.Snapshot().Buckets.Len() != 0 || notifier.count() != 0 {
		t.Fatal("board mutated after close")
	}
	select {
	case <-v.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestStreamEndStopsView(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger, _ := test.NewNullLogger()
	feed := newFakeFeed(1)
	v, err := Open(context.Background(), &fakeStore{}, feed, Options{Logger: logger})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	close(feed.sub.events)
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("view did not stop")
	}
	if !errors.Is(v.Err(), ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", v.Err())
	}
	_ = v.Close()
}
