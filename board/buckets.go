package board

import (
	"slices"
	"strings"
	"time"

	"grafsys/domain"
)

// Undated is the effective delivery date of orders without one. It places
// undated orders after every dated order of their bucket.
var Undated = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// DefaultQueryLimit caps the number of orders loaded at bootstrap.
const DefaultQueryLimit = 200

// Buckets groups tracked orders by status. Each bucket is kept sorted by
// effective delivery date.
type Buckets map[domain.Status][]domain.Order

func newBuckets() Buckets {
	b := make(Buckets, len(domain.TrackedStatuses))
	for _, s := range domain.TrackedStatuses {
		b[s] = []domain.Order{}
	}
	return b
}

// Bootstrap builds the initial buckets from a bulk query result. Orders with
// an untracked status are dropped, and only the first order seen for an id is
// kept.
func Bootstrap(orders []domain.Order) Buckets {
	b := newBuckets()
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		b.insert(o.Clone())
	}
	b.sort()
	return b
}

// EffectiveDeliveryDate is the date an order is sorted by.
func EffectiveDeliveryDate(o domain.Order) time.Time {
	if o.DeliveryDate == nil {
		return Undated
	}
	return *o.DeliveryDate
}

func compareOrders(a, b domain.Order) int {
	if c := EffectiveDeliveryDate(a).Compare(EffectiveDeliveryDate(b)); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func (b Buckets) sort() {
	for _, orders := range b {
		slices.SortFunc(orders, compareOrders)
	}
}

// Locate returns the status bucket holding id and its index there.
func (b Buckets) Locate(id string) (domain.Status, int, bool) {
	for _, s := range domain.TrackedStatuses {
		for i, o := range b[s] {
			if o.ID == id {
				return s, i, true
			}
		}
	}
	return "", 0, false
}

func (b Buckets) insert(o domain.Order) bool {
	if !o.Status.Tracked() {
		return false
	}
	b[o.Status] = append(b[o.Status], o)
	return true
}

func (b Buckets) remove(id string) bool {
	s, i, ok := b.Locate(id)
	if !ok {
		return false
	}
	b[s] = slices.Delete(b[s], i, i+1)
	return true
}

// Len returns the number of orders across all buckets.
func (b Buckets) Len() int {
	n := 0
	for _, orders := range b {
		n += len(orders)
	}
	return n
}

func (b Buckets) clone() Buckets {
	c := make(Buckets, len(b))
	for s, orders := range b {
		cp := make([]domain.Order, len(orders))
		for i, o := range orders {
			cp[i] = o.Clone()
		}
		c[s] = cp
	}
	return c
}
