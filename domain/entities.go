package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	EdmInt64  = "Edm.Int64"
	EdmDouble = "Edm.Double"
)

// OrderPartition is the partition key shared by all order rows.
const OrderPartition = "order"

// OrderEntity is an order as stored in the orders table. Timestamps are unix
// milliseconds.
type OrderEntity struct {
	Entity
	Number             string  `json:"Number,omitempty"`
	ClientID           string  `json:"ClientId,omitempty"`
	ClientName         string  `json:"ClientName,omitempty"`
	SellerID           string  `json:"SellerId,omitempty"`
	Description        string  `json:"Description,omitempty"`
	Status             string  `json:"Status"`
	DeliveryDate       *int64  `json:"DeliveryDate,omitempty,string"`
	DeliveryDateType   *string `json:"DeliveryDate@odata.type,omitempty"`
	ToArrange          bool    `json:"ToArrange"`
	Delivered          bool    `json:"Delivered"`
	FinalSituacao      string  `json:"FinalSituacao,omitempty"`
	FinalSituacaoClass string  `json:"FinalSituacaoClass,omitempty"`
	Items              string  `json:"Items,omitempty"`
	Discount           float64 `json:"Discount"`
	DiscountType       string  `json:"Discount@odata.type"`
	CreatedAt          int64   `json:"CreatedAt,string"`
	CreatedAtType      string  `json:"CreatedAt@odata.type"`
	EventTimestamp     int64   `json:"EventTimestamp,string"`
	EventTimestampType string  `json:"EventTimestamp@odata.type"`
	ETag               string  `json:"-"`
}

// NewOrderEntity converts o into its table form stamped with ts.
func NewOrderEntity(o Order, ts int64) (OrderEntity, error) {
	ent := OrderEntity{
		Entity:             Entity{PartitionKey: OrderPartition, RowKey: o.ID},
		Number:             o.Number,
		ClientID:           o.ClientID,
		ClientName:         o.ClientName,
		SellerID:           o.SellerID,
		Description:        o.Description,
		Status:             string(o.Status),
		ToArrange:          o.ToArrange,
		Delivered:          o.Delivered,
		FinalSituacao:      o.FinalSituacao,
		FinalSituacaoClass: o.FinalSituacaoClass,
		Discount:           o.Discount,
		DiscountType:       EdmDouble,
		CreatedAt:          o.CreatedAt.UnixMilli(),
		CreatedAtType:      EdmInt64,
		EventTimestamp:     ts,
		EventTimestampType: EdmInt64,
	}
	if o.DeliveryDate != nil {
		ms := o.DeliveryDate.UnixMilli()
		t := EdmInt64
		ent.DeliveryDate = &ms
		ent.DeliveryDateType = &t
	}
	if len(o.Items) > 0 {
		items, err := sonic.MarshalString(o.Items)
		if err != nil {
			return OrderEntity{}, err
		}
		ent.Items = items
	}
	return ent, nil
}

// Order converts the stored row back into an Order.
func (e OrderEntity) Order() (Order, error) {
	o := Order{
		ID:                 e.RowKey,
		Number:             e.Number,
		ClientID:           e.ClientID,
		ClientName:         e.ClientName,
		SellerID:           e.SellerID,
		Description:        e.Description,
		Status:             Status(e.Status),
		ToArrange:          e.ToArrange,
		Delivered:          e.Delivered,
		FinalSituacao:      e.FinalSituacao,
		FinalSituacaoClass: e.FinalSituacaoClass,
		Discount:           e.Discount,
		CreatedAt:          time.UnixMilli(e.CreatedAt).UTC(),
	}
	if e.DeliveryDate != nil {
		d := time.UnixMilli(*e.DeliveryDate).UTC()
		o.DeliveryDate = &d
	}
	if e.Items != "" {
		if err := sonic.UnmarshalString(e.Items, &o.Items); err != nil {
			return Order{}, err
		}
	}
	return o, nil
}

// ProductEntity is a catalog product.
type ProductEntity struct {
	Entity
	Name       string  `json:"Name"`
	CategoryID string  `json:"CategoryId,omitempty"`
	Price      float64 `json:"Price"`
}

// CategoryEntity is a product category.
type CategoryEntity struct {
	Entity
	Name string `json:"Name"`
}

// EmployeeEntity is a member of staff; sellers are employees.
type EmployeeEntity struct {
	Entity
	Name string `json:"Name"`
	Role string `json:"Role,omitempty"`
}
