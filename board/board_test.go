package board

import (
	"fmt"
	"testing"
	"time"

	"grafsys/domain"
)

var base = time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

func due(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func order(id string, status domain.Status, delivery *time.Time) domain.Order {
	return domain.Order{ID: id, Status: status, DeliveryDate: delivery, CreatedAt: base}
}

// checkBoard asserts the bucket invariants: every order sits in the bucket of
// its status, no id appears twice and each bucket is sorted.
func checkBoard(t *testing.T, b Buckets) {
	t.Helper()
	seen := map[string]domain.Status{}
	for status, orders := range b {
		if !status.Tracked() {
			t.Fatalf("untracked bucket %q present", status)
		}
		for i, o := range orders {
			if o.Status != status {
				t.Fatalf("order %s with status %s found in bucket %s", o.ID, o.Status, status)
			}
			if prev, dup := seen[o.ID]; dup {
				t.Fatalf("order %s found in buckets %s and %s", o.ID, prev, status)
			}
			seen[o.ID] = status
			if i > 0 && EffectiveDeliveryDate(orders[i-1]).After(EffectiveDeliveryDate(o)) {
				t.Fatalf("bucket %s out of order at %d: %v after %v", status, i, EffectiveDeliveryDate(orders[i-1]), EffectiveDeliveryDate(o))
			}
		}
	}
}

func ids(orders []domain.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestBootstrapGroupsAndSorts(t *testing.T) {
	orders := []domain.Order{
		order("late", domain.StatusPrinting, due(3*time.Hour)),
		order("undated", domain.StatusPrinting, nil),
		order("early", domain.StatusPrinting, due(time.Hour)),
		order("gone", domain.StatusCancelled, due(time.Hour)),
		order("weird", domain.Status("archived"), nil),
		order("ready", domain.StatusReady, due(-time.Hour)),
	}
	b := Bootstrap(orders)
	checkBoard(t, b)

	if got := fmt.Sprint(ids(b[domain.StatusPrinting])); got != "[early late undated]" {
		t.Fatalf("unexpected printing bucket: %s", got)
	}
	if got := fmt.Sprint(ids(b[domain.StatusReady])); got != "[ready]" {
		t.Fatalf("unexpected ready bucket: %s", got)
	}
	if b.Len() != 4 {
		t.Fatalf("expected 4 orders on board, got %d", b.Len())
	}
	if len(b) != len(domain.TrackedStatuses) {
		t.Fatalf("expected a bucket per tracked status, got %d", len(b))
	}
}

func TestBootstrapTieBreaksDeterministically(t *testing.T) {
	a := order("b", domain.StatusPending, nil)
	b := order("a", domain.StatusPending, nil)
	c := order("c", domain.StatusPending, nil)
	c.CreatedAt = base.Add(-time.Hour)

	first := Bootstrap([]domain.Order{a, b, c})
	second := Bootstrap([]domain.Order{c, b, a})
	want := "[c a b]"
	if got := fmt.Sprint(ids(first[domain.StatusPending])); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := fmt.Sprint(ids(second[domain.StatusPending])); got != want {
		t.Fatalf("expected %s regardless of input order, got %s", want, got)
	}
}

func TestBootstrapCopiesInput(t *testing.T) {
	in := []domain.Order{order("o1", domain.StatusPending, due(time.Hour))}
	b := Bootstrap(in)
	*in[0].DeliveryDate = base.Add(-time.Hour)
	if !b[domain.StatusPending][0].DeliveryDate.Equal(base.Add(time.Hour)) {
		t.Fatal("bucket shares delivery date with caller")
	}
}

func TestBootstrapKeepsFirstOrderPerID(t *testing.T) {
	tests := []struct {
		name   string
		orders []domain.Order
		want   map[domain.Status][]string
	}{
		{
			name: "same status",
			orders: []domain.Order{
				order("o1", domain.StatusPrinting, due(time.Hour)),
				order("o1", domain.StatusPrinting, due(2*time.Hour)),
			},
			want: map[domain.Status][]string{domain.StatusPrinting: {"o1"}},
		},
		{
			name: "different status",
			orders: []domain.Order{
				order("o1", domain.StatusFinishing, due(time.Hour)),
				order("o2", domain.StatusPending, nil),
				order("o1", domain.StatusPrinting, due(time.Hour)),
			},
			want: map[domain.Status][]string{
				domain.StatusFinishing: {"o1"},
				domain.StatusPending:   {"o2"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Bootstrap(tt.orders)
			checkBoard(t, b)
			for _, status := range domain.TrackedStatuses {
				got := ids(b[status])
				if fmt.Sprint(got) != fmt.Sprint(append([]string{}, tt.want[status]...)) {
					t.Fatalf("bucket %s: got %v, want %v", status, got, tt.want[status])
				}
			}
			if b[domain.StatusPrinting] != nil && len(tt.want[domain.StatusPrinting]) == 1 {
				if got := b[domain.StatusPrinting][0].DeliveryDate; !got.Equal(base.Add(time.Hour)) {
					t.Fatalf("expected first order kept, got delivery %v", got)
				}
			}
		})
	}
}
