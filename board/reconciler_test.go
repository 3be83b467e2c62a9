package board

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"grafsys/domain"
)

func added(o domain.Order) domain.ChangeEvent {
	return domain.ChangeEvent{Type: domain.ChangeAdded, ID: o.ID, Order: &o}
}

func modified(o domain.Order) domain.ChangeEvent {
	return domain.ChangeEvent{Type: domain.ChangeModified, ID: o.ID, Order: &o}
}

func removed(id string) domain.ChangeEvent {
	return domain.ChangeEvent{Type: domain.ChangeRemoved, ID: id}
}

func newTestReconciler(orders ...domain.Order) *Reconciler {
	logger, _ := test.NewNullLogger()
	return NewReconciler(Bootstrap(orders), logger)
}

func TestReconcilerAddInsertsIntoStatusBucket(t *testing.T) {
	r := newTestReconciler(order("o1", domain.StatusPrinting, due(2*time.Hour)))
	if !r.Apply([]domain.ChangeEvent{added(order("o2", domain.StatusPrinting, due(time.Hour)))}) {
		t.Fatal("expected change")
	}
	b := r.Buckets()
	checkBoard(t, b)
	if got := fmt.Sprint(ids(b[domain.StatusPrinting])); got != "[o2 o1]" {
		t.Fatalf("unexpected bucket: %s", got)
	}
}

func TestReconcilerDuplicateAddIsNoop(t *testing.T) {
	o := order("o1", domain.StatusPrinting, due(time.Hour))
	r := newTestReconciler(o)
	before := r.Buckets()

	dup := o
	dup.Description = "replayed"
	if r.Apply([]domain.ChangeEvent{added(dup), added(dup)}) {
		t.Fatal("duplicate add reported a change")
	}
	if diff := cmp.Diff(before, r.Buckets()); diff != "" {
		t.Fatalf("buckets changed (-before +after):\n%s", diff)
	}
}

func TestReconcilerAddTwiceEqualsAddOnce(t *testing.T) {
	ev := added(order("o9", domain.StatusCutting, due(time.Hour)))
	once := newTestReconciler()
	once.Apply([]domain.ChangeEvent{ev})
	twice := newTestReconciler()
	twice.Apply([]domain.ChangeEvent{ev})
	twice.Apply([]domain.ChangeEvent{ev})
	if diff := cmp.Diff(once.Buckets(), twice.Buckets()); diff != "" {
		t.Fatalf("idempotence violated:\n%s", diff)
	}
}

func TestReconcilerModifyMovesBetweenBuckets(t *testing.T) {
	o := order("o1", domain.StatusPrinting, due(time.Hour))
	r := newTestReconciler(o, order("o2", domain.StatusFinishing, due(2*time.Hour)))
	o.Status = domain.StatusFinishing
	if !r.Apply([]domain.ChangeEvent{modified(o)}) {
		t.Fatal("expected change")
	}
	b := r.Buckets()
	checkBoard(t, b)
	if len(b[domain.StatusPrinting]) != 0 {
		t.Fatalf("order left behind in printing: %v", ids(b[domain.StatusPrinting]))
	}
	if got := fmt.Sprint(ids(b[domain.StatusFinishing])); got != "[o1 o2]" {
		t.Fatalf("unexpected finishing bucket: %s", got)
	}
}

func TestReconcilerModifyToCancelledLeavesBoard(t *testing.T) {
	o := order("o1", domain.StatusPrinting, due(-10*time.Minute))
	r := newTestReconciler(o)
	o.Status = domain.StatusCancelled
	if !r.Apply([]domain.ChangeEvent{modified(o)}) {
		t.Fatal("expected change")
	}
	b := r.Buckets()
	if _, _, ok := b.Locate("o1"); ok {
		t.Fatal("cancelled order still on board")
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty board, got %d orders", b.Len())
	}
}

func TestReconcilerModifyUnknownOrderInserts(t *testing.T) {
	r := newTestReconciler()
	if !r.Apply([]domain.ChangeEvent{modified(order("o1", domain.StatusReady, nil))}) {
		t.Fatal("expected change")
	}
	if s, _, ok := r.Buckets().Locate("o1"); !ok || s != domain.StatusReady {
		t.Fatalf("expected o1 in ready, got %q %v", s, ok)
	}
}

func TestReconcilerModifyUntrackedToUntrackedIsNoop(t *testing.T) {
	r := newTestReconciler()
	if r.Apply([]domain.ChangeEvent{modified(order("o1", domain.StatusCancelled, nil))}) {
		t.Fatal("expected no change")
	}
}

func TestReconcilerRemove(t *testing.T) {
	r := newTestReconciler(order("o1", domain.StatusPending, nil), order("o2", domain.StatusPending, nil))
	if !r.Apply([]domain.ChangeEvent{removed("o1")}) {
		t.Fatal("expected change")
	}
	if r.Apply([]domain.ChangeEvent{removed("o1")}) {
		t.Fatal("removing a missing order reported a change")
	}
	if got := fmt.Sprint(ids(r.Buckets()[domain.StatusPending])); got != "[o2]" {
		t.Fatalf("unexpected bucket: %s", got)
	}
}

func TestReconcilerSkipsMalformedEvents(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewReconciler(Bootstrap([]domain.Order{order("o1", domain.StatusPending, nil)}), logger)
	before := r.Buckets()
	batch := []domain.ChangeEvent{
		{Type: domain.ChangeAdded, Order: &domain.Order{Status: domain.StatusPending}},
		{Type: domain.ChangeModified, ID: "o1"},
		{Type: "RENAMED", ID: "o1"},
		{Type: domain.ChangeRemoved},
	}
	if r.Apply(batch) {
		t.Fatal("malformed events reported a change")
	}
	if diff := cmp.Diff(before, r.Buckets()); diff != "" {
		t.Fatalf("malformed events mutated board:\n%s", diff)
	}
	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel {
			warnings++
		}
	}
	if warnings != len(batch) {
		t.Fatalf("expected %d warnings, got %d", len(batch), warnings)
	}
}

func TestReconcilerUsesEventIDOverPayloadID(t *testing.T) {
	r := newTestReconciler()
	o := order("payload-id", domain.StatusPending, nil)
	r.Apply([]domain.ChangeEvent{{Type: domain.ChangeAdded, ID: "event-id", Order: &o}})
	if _, _, ok := r.Buckets().Locate("event-id"); !ok {
		t.Fatal("expected order keyed by event id")
	}
}

func TestReconcilerInvariantOverEventSequence(t *testing.T) {
	r := newTestReconciler()
	statuses := append([]domain.Status{domain.StatusCancelled}, domain.TrackedStatuses...)
	last := map[string]domain.Status{}
	for i := 0; i < 400; i++ {
		id := fmt.Sprintf("o%d", i%17)
		status := statuses[(i*7)%len(statuses)]
		var delivery *time.Time
		if i%5 != 0 {
			delivery = due(time.Duration((i*37)%240-60) * time.Minute)
		}
		o := order(id, status, delivery)
		var ev domain.ChangeEvent
		switch i % 4 {
		case 0:
			ev = added(o)
		case 3:
			ev = removed(id)
		default:
			ev = modified(o)
		}
		r.Apply([]domain.ChangeEvent{ev})
		switch ev.Type {
		case domain.ChangeAdded:
			if _, ok := last[id]; !ok && status.Tracked() {
				last[id] = status
			}
		case domain.ChangeModified:
			delete(last, id)
			if status.Tracked() {
				last[id] = status
			}
		case domain.ChangeRemoved:
			delete(last, id)
		}

		b := r.Buckets()
		checkBoard(t, b)
		if b.Len() != len(last) {
			t.Fatalf("step %d: expected %d orders, got %d", i, len(last), b.Len())
		}
		for oid, want := range last {
			if got, _, ok := b.Locate(oid); !ok || got != want {
				t.Fatalf("step %d: order %s expected in %s, got %q", i, oid, want, got)
			}
		}
	}
}
