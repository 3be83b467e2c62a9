package domain

import (
	"errors"
	"time"

	"github.com/bytedance/sonic"
)

// ChangeType is the kind of change reported by the order change stream.
type ChangeType string

const (
	ChangeAdded    ChangeType = "ADDED"
	ChangeModified ChangeType = "MODIFIED"
	ChangeRemoved  ChangeType = "REMOVED"
)

// ChangeEvent reports that an order was added, modified or removed. Order is
// omitted for removals.
type ChangeEvent struct {
	Type      ChangeType `json:"type"`
	ID        string     `json:"id"`
	Order     *Order     `json:"order,omitempty"`
	Timestamp int64      `json:"timestamp,omitempty"`
}

var (
	errMissingID    = errors.New("change event without id")
	errMissingOrder = errors.New("change event without order")
	errUnknownType  = errors.New("unknown change event type")
)

// Validate reports whether the event can be applied to the board.
func (e ChangeEvent) Validate() error {
	if e.ID == "" {
		return errMissingID
	}
	switch e.Type {
	case ChangeAdded, ChangeModified:
		if e.Order == nil {
			return errMissingOrder
		}
	case ChangeRemoved:
	default:
		return errUnknownType
	}
	return nil
}

// Command types accepted for the order entity.
const (
	OrderEntityType    = "order"
	OrderCreated       = "order-created"
	OrderUpdated       = "order-updated"
	OrderStatusChanged = "order-status-changed"
	OrderDeleted       = "order-deleted"
)

// Command represents a write request for an order.
type Command struct {
	// ID carries the idempotency key once the command is enqueued.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	EntityType     string                 `json:"entityType"`
	EntityID       string                 `json:"entityId,omitempty"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// CommandEnvelope wraps a command with the user performing it.
type CommandEnvelope struct {
	UserID  string  `json:"userId"`
	Command Command `json:"command"`
}

// OrderFields carries the order attributes of create and update commands.
// Nil fields are left untouched on update.
type OrderFields struct {
	Number            *string     `json:"number"`
	ClientID          *string     `json:"clientId"`
	ClientName        *string     `json:"clientName"`
	SellerID          *string     `json:"sellerId"`
	Description       *string     `json:"description"`
	Status            *Status     `json:"status"`
	DeliveryDate      *time.Time  `json:"deliveryDate"`
	ClearDeliveryDate bool        `json:"clearDeliveryDate,omitempty"`
	ToArrange         *bool       `json:"toArrange"`
	Items             []OrderItem `json:"items"`
	Discount          *float64    `json:"discount"`
}

// StatusChangedData is the payload of an order-status-changed command.
type StatusChangedData struct {
	Status Status `json:"status"`
}

// Apply copies the set fields onto o.
func (f OrderFields) Apply(o *Order) {
	if f.Number != nil {
		o.Number = *f.Number
	}
	if f.ClientID != nil {
		o.ClientID = *f.ClientID
	}
	if f.ClientName != nil {
		o.ClientName = *f.ClientName
	}
	if f.SellerID != nil {
		o.SellerID = *f.SellerID
	}
	if f.Description != nil {
		o.Description = *f.Description
	}
	if f.Status != nil {
		o.Status = *f.Status
	}
	if f.ClearDeliveryDate {
		o.DeliveryDate = nil
	} else if f.DeliveryDate != nil {
		d := f.DeliveryDate.UTC()
		o.DeliveryDate = &d
	}
	if f.ToArrange != nil {
		o.ToArrange = *f.ToArrange
	}
	if f.Items != nil {
		o.Items = append([]OrderItem(nil), f.Items...)
	}
	if f.Discount != nil {
		o.Discount = *f.Discount
	}
}

// Empty reports whether no field is set.
func (f OrderFields) Empty() bool {
	return f.Number == nil && f.ClientID == nil && f.ClientName == nil &&
		f.SellerID == nil && f.Description == nil && f.Status == nil &&
		f.DeliveryDate == nil && !f.ClearDeliveryDate && f.ToArrange == nil &&
		f.Items == nil && f.Discount == nil
}
