// Package updater applies queued order commands to the orders table and
// announces the resulting changes.
package updater

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"grafsys/domain"
)

// OrderStore defines methods required for updating orders.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*domain.OrderEntity, error)
	InsertOrder(ctx context.Context, ent domain.OrderEntity) error
	ReplaceOrder(ctx context.Context, ent domain.OrderEntity) error
	DeleteOrder(ctx context.Context, id string) error
}

// Result describes the outcome of an applied command.
type Result struct {
	Event domain.ChangeEvent
	// Sellers lists the sellers whose order lists changed.
	Sellers []string
}

// OrderService processes order commands.
type OrderService struct {
	st     OrderStore
	logger log.FieldLogger
}

func NewOrderService(st OrderStore, logger log.FieldLogger) OrderService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return OrderService{st: st, logger: logger}
}

// Apply updates the orders table for cmd.
func (s OrderService) Apply(ctx context.Context, cmd domain.Command) (Result, error) {
	if cmd.EntityType != domain.OrderEntityType {
		return Result{}, fmt.Errorf("%w: unknown entity type %s", domain.ErrInvalidCommand, cmd.EntityType)
	}
	if cmd.EntityID == "" {
		return Result{}, fmt.Errorf("%w: missing entity id", domain.ErrInvalidCommand)
	}
	switch cmd.Type {
	case domain.OrderCreated:
		return s.create(ctx, cmd)
	case domain.OrderUpdated:
		var fields domain.OrderFields
		if err := decode(cmd, &fields); err != nil {
			return Result{}, err
		}
		if fields.Empty() {
			return Result{}, fmt.Errorf("%w: order %s update had no fields", domain.ErrInvalidCommand, cmd.EntityID)
		}
		if fields.Status != nil && !fields.Status.Valid() {
			return Result{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidCommand, *fields.Status)
		}
		return s.modify(ctx, cmd, func(o *domain.Order) {
			prev := o.Status
			fields.Apply(o)
			settle(o, prev, cmd.Timestamp)
		})
	case domain.OrderStatusChanged:
		var data domain.StatusChangedData
		if err := decode(cmd, &data); err != nil {
			return Result{}, err
		}
		if !data.Status.Valid() {
			return Result{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidCommand, data.Status)
		}
		return s.modify(ctx, cmd, func(o *domain.Order) {
			prev := o.Status
			o.Status = data.Status
			settle(o, prev, cmd.Timestamp)
		})
	case domain.OrderDeleted:
		return s.remove(ctx, cmd)
	default:
		return Result{}, fmt.Errorf("%w: unknown order command %s", domain.ErrInvalidCommand, cmd.Type)
	}
}

func decode(cmd domain.Command, v any) error {
	if len(cmd.Data) == 0 {
		return fmt.Errorf("%w: %s without data", domain.ErrInvalidCommand, cmd.Type)
	}
	if err := sonic.Unmarshal(cmd.Data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
	}
	return nil
}

// settle keeps the delivered flag in line with the status. Entering delivered
// freezes the situation the order had at ts, just before delivery.
func settle(o *domain.Order, prev domain.Status, ts int64) {
	if o.Status == domain.StatusDelivered && prev != domain.StatusDelivered {
		o.Delivered = false
		domain.Freeze(o, time.UnixMilli(ts).UTC())
		o.Delivered = true
		return
	}
	if o.Status != domain.StatusDelivered {
		o.Delivered = false
	}
}

func (s OrderService) create(ctx context.Context, cmd domain.Command) (Result, error) {
	var fields domain.OrderFields
	if err := decode(cmd, &fields); err != nil {
		return Result{}, err
	}
	if fields.Status != nil && !fields.Status.Valid() {
		return Result{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidCommand, *fields.Status)
	}
	id := cmd.EntityID
	ent, err := s.st.GetOrder(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if ent != nil {
		s.logger.WithFields(log.Fields{"order": id, "ts": cmd.Timestamp, "current": ent.EventTimestamp}).Error("duplicate order-created command")
		return Result{}, fmt.Errorf("order %s: %w", id, domain.ErrOrderExists)
	}
	o := domain.Order{
		ID:        id,
		Status:    domain.StatusPending,
		CreatedAt: time.UnixMilli(cmd.Timestamp).UTC(),
	}
	fields.Apply(&o)
	settle(&o, "", cmd.Timestamp)
	next, err := domain.NewOrderEntity(o, cmd.Timestamp)
	if err != nil {
		return Result{}, err
	}
	if err := s.st.InsertOrder(ctx, next); err != nil {
		return Result{}, fmt.Errorf("order %s: %w", id, err)
	}
	return Result{
		Event:   domain.ChangeEvent{Type: domain.ChangeAdded, ID: id, Order: &o, Timestamp: cmd.Timestamp},
		Sellers: sellers(o.SellerID),
	}, nil
}

func (s OrderService) modify(ctx context.Context, cmd domain.Command, mutate func(*domain.Order)) (Result, error) {
	id := cmd.EntityID
	ent, err := s.st.GetOrder(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if ent == nil {
		s.logger.WithFields(log.Fields{"order": id, "type": cmd.Type}).Error("command for missing order")
		return Result{}, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
	}
	for {
		if cmd.Timestamp <= ent.EventTimestamp {
			s.logger.WithFields(log.Fields{"order": id, "ts": cmd.Timestamp, "current": ent.EventTimestamp}).Errorf("stale %s command", cmd.Type)
			return Result{}, fmt.Errorf("order %s: %w", id, domain.ErrStaleCommand)
		}
		o, err := ent.Order()
		if err != nil {
			return Result{}, err
		}
		prevSeller := o.SellerID
		mutate(&o)
		next, err := domain.NewOrderEntity(o, cmd.Timestamp)
		if err != nil {
			return Result{}, err
		}
		next.ETag = ent.ETag
		if err := s.st.ReplaceOrder(ctx, next); err != nil {
			if !errors.Is(err, domain.ErrConcurrencyConflict) {
				return Result{}, fmt.Errorf("order %s: %w", id, err)
			}
			ent, err = s.st.GetOrder(ctx, id)
			if err != nil {
				return Result{}, err
			}
			if ent == nil {
				s.logger.WithField("order", id).Error("order lost during retry")
				return Result{}, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
			}
			continue
		}
		return Result{
			Event:   domain.ChangeEvent{Type: domain.ChangeModified, ID: id, Order: &o, Timestamp: cmd.Timestamp},
			Sellers: sellers(prevSeller, o.SellerID),
		}, nil
	}
}

func (s OrderService) remove(ctx context.Context, cmd domain.Command) (Result, error) {
	id := cmd.EntityID
	ent, err := s.st.GetOrder(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if ent == nil {
		s.logger.WithField("order", id).Warn("order-deleted command for missing order")
		return Result{}, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
	}
	if cmd.Timestamp <= ent.EventTimestamp {
		s.logger.WithFields(log.Fields{"order": id, "ts": cmd.Timestamp, "current": ent.EventTimestamp}).Error("stale order-deleted command")
		return Result{}, fmt.Errorf("order %s: %w", id, domain.ErrStaleCommand)
	}
	if err := s.st.DeleteOrder(ctx, id); err != nil {
		return Result{}, fmt.Errorf("order %s: %w", id, err)
	}
	return Result{
		Event:   domain.ChangeEvent{Type: domain.ChangeRemoved, ID: id, Timestamp: cmd.Timestamp},
		Sellers: sellers(ent.SellerID),
	}, nil
}

func sellers(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
