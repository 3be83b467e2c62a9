package domain

import "time"

// Status is a workflow state of an order.
type Status string

const (
	StatusBudget      Status = "budget"
	StatusPending     Status = "pending"
	StatusPrinting    Status = "printing"
	StatusCutting     Status = "cutting"
	StatusFinishing   Status = "finishing"
	StatusApplication Status = "application"
	StatusReady       Status = "ready"
	StatusDelivered   Status = "delivered"
	StatusCancelled   Status = "cancelled"
)

// TrackedStatuses lists the board columns in workflow order.
var TrackedStatuses = []Status{
	StatusBudget,
	StatusPending,
	StatusPrinting,
	StatusCutting,
	StatusFinishing,
	StatusApplication,
	StatusReady,
	StatusDelivered,
}

// Tracked reports whether orders in s are shown on the board.
func (s Status) Tracked() bool {
	switch s {
	case StatusBudget, StatusPending, StatusPrinting, StatusCutting,
		StatusFinishing, StatusApplication, StatusReady, StatusDelivered:
		return true
	}
	return false
}

// Valid reports whether s is a known status, tracked or not.
func (s Status) Valid() bool {
	return s.Tracked() || s == StatusCancelled
}

// OrderItem is a single product line of an order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Gross returns quantity times unit price.
func (i OrderItem) Gross() float64 {
	return i.Quantity * i.UnitPrice
}

// Order is a print job tracked on the board.
type Order struct {
	ID                 string      `json:"id"`
	Number             string      `json:"number,omitempty"`
	ClientID           string      `json:"clientId,omitempty"`
	ClientName         string      `json:"clientName,omitempty"`
	SellerID           string      `json:"sellerId,omitempty"`
	Description        string      `json:"description,omitempty"`
	Status             Status      `json:"status"`
	DeliveryDate       *time.Time  `json:"deliveryDate,omitempty"`
	ToArrange          bool        `json:"toArrange,omitempty"`
	Delivered          bool        `json:"delivered,omitempty"`
	FinalSituacao      string      `json:"finalSituacao,omitempty"`
	FinalSituacaoClass string      `json:"finalSituacaoClass,omitempty"`
	Items              []OrderItem `json:"items,omitempty"`
	Discount           float64     `json:"discount,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
}

// Clone returns a copy that shares no mutable state with o.
func (o Order) Clone() Order {
	c := o
	if o.DeliveryDate != nil {
		d := *o.DeliveryDate
		c.DeliveryDate = &d
	}
	if o.Items != nil {
		c.Items = append([]OrderItem(nil), o.Items...)
	}
	return c
}
