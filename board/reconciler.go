package board

import (
	log "github.com/sirupsen/logrus"

	"grafsys/domain"
)

// Reconciler applies order change events to a bucket model. It is not safe
// for concurrent use; a View drives it from a single goroutine.
type Reconciler struct {
	buckets Buckets
	logger  log.FieldLogger
}

// NewReconciler takes ownership of initial.
func NewReconciler(initial Buckets, logger log.FieldLogger) *Reconciler {
	if initial == nil {
		initial = newBuckets()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reconciler{buckets: initial, logger: logger}
}

// Apply applies a batch of events and reports whether any bucket changed.
// Buckets are re-sorted once per changing batch.
func (r *Reconciler) Apply(batch []domain.ChangeEvent) bool {
	changed := false
	for _, ev := range batch {
		if r.apply(ev) {
			changed = true
		}
	}
	if changed {
		r.buckets.sort()
	}
	return changed
}

func (r *Reconciler) apply(ev domain.ChangeEvent) bool {
	if err := ev.Validate(); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{"order": ev.ID, "type": ev.Type}).Warn("skipping malformed change event")
		return false
	}
	switch ev.Type {
	case domain.ChangeAdded:
		if _, _, ok := r.buckets.Locate(ev.ID); ok {
			return false
		}
		return r.buckets.insert(r.record(ev))
	case domain.ChangeModified:
		removed := r.buckets.remove(ev.ID)
		inserted := r.buckets.insert(r.record(ev))
		if !inserted {
			r.logger.WithFields(log.Fields{"order": ev.ID, "status": ev.Order.Status}).Debug("order left the board")
		}
		return removed || inserted
	case domain.ChangeRemoved:
		return r.buckets.remove(ev.ID)
	}
	return false
}

// record returns the event's order keyed by the event id.
func (r *Reconciler) record(ev domain.ChangeEvent) domain.Order {
	o := ev.Order.Clone()
	o.ID = ev.ID
	return o
}

// Buckets returns a deep copy of the current model.
func (r *Reconciler) Buckets() Buckets {
	return r.buckets.clone()
}
