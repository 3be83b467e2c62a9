package domain

import (
	"testing"
	"time"
)

func TestChangeEventValidate(t *testing.T) {
	o := &Order{ID: "o1"}
	cases := []struct {
		name string
		ev   ChangeEvent
		ok   bool
	}{
		{"added", ChangeEvent{Type: ChangeAdded, ID: "o1", Order: o}, true},
		{"modified", ChangeEvent{Type: ChangeModified, ID: "o1", Order: o}, true},
		{"removed without order", ChangeEvent{Type: ChangeRemoved, ID: "o1"}, true},
		{"missing id", ChangeEvent{Type: ChangeAdded, Order: o}, false},
		{"added without order", ChangeEvent{Type: ChangeAdded, ID: "o1"}, false},
		{"unknown type", ChangeEvent{Type: "RENAMED", ID: "o1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, err)
			}
		})
	}
}

func TestOrderFieldsApply(t *testing.T) {
	status := StatusCutting
	arrange := true
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("BRT", -3*3600))
	o := Order{ID: "o1", ClientName: "old", Status: StatusPending}
	OrderFields{Status: &status, ToArrange: &arrange, DeliveryDate: &when}.Apply(&o)
	if o.Status != StatusCutting || !o.ToArrange || o.ClientName != "old" {
		t.Fatalf("unexpected order: %#v", o)
	}
	if o.DeliveryDate == nil || !o.DeliveryDate.Equal(when) || o.DeliveryDate.Location() != time.UTC {
		t.Fatalf("unexpected delivery date: %v", o.DeliveryDate)
	}
	OrderFields{ClearDeliveryDate: true}.Apply(&o)
	if o.DeliveryDate != nil {
		t.Fatalf("expected delivery date cleared")
	}
	if !(OrderFields{}).Empty() || (OrderFields{ClearDeliveryDate: true}).Empty() {
		t.Fatal("unexpected Empty result")
	}
}
