// Package stats aggregates the sales figures shown on a seller's profile.
package stats

import (
	"cmp"
	"slices"

	"grafsys/domain"
)

// Orders whose product or category is unknown are grouped under this id.
const (
	UncategorizedID   = "uncategorized"
	UncategorizedName = "Sem categoria"
)

// Totals sums the counted orders of a seller.
type Totals struct {
	Orders        int     `json:"orders"`
	Delivered     int     `json:"delivered"`
	Gross         float64 `json:"gross"`
	Discount      float64 `json:"discount"`
	Net           float64 `json:"net"`
	AverageTicket float64 `json:"averageTicket"`
}

// CategoryStats sums the items of one product category.
type CategoryStats struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Gross    float64 `json:"gross"`
	Discount float64 `json:"discount"`
	Net      float64 `json:"net"`
}

// SellerStats is the statistics view of one seller.
type SellerStats struct {
	SellerID   string                `json:"sellerId"`
	SellerName string                `json:"sellerName,omitempty"`
	Totals     Totals                `json:"totals"`
	Categories []CategoryStats       `json:"categories"`
	ByStatus   map[domain.Status]int `json:"byStatus"`
}

// Counted reports whether o contributes to sales figures. Budgets and
// cancelled orders never do.
func Counted(o domain.Order) bool {
	return o.Status != domain.StatusBudget && o.Status != domain.StatusCancelled
}

// Compute aggregates the orders of sellerID. Orders of other sellers are
// ignored. ByStatus counts every order of the seller; the other figures only
// counted ones.
func Compute(sellerID string, orders []domain.Order, products map[string]domain.ProductEntity, categories map[string]domain.CategoryEntity) SellerStats {
	st := SellerStats{
		SellerID:   sellerID,
		Categories: []CategoryStats{},
		ByStatus:   map[domain.Status]int{},
	}
	byCategory := map[string]*CategoryStats{}
	for _, o := range orders {
		if o.SellerID != sellerID {
			continue
		}
		st.ByStatus[o.Status]++
		if !Counted(o) {
			continue
		}
		gross := 0.0
		for _, it := range o.Items {
			gross += it.Gross()
		}
		st.Totals.Orders++
		if o.Status == domain.StatusDelivered {
			st.Totals.Delivered++
		}
		st.Totals.Gross += gross
		st.Totals.Discount += o.Discount

		shares := discountShares(o.Items, gross, o.Discount)
		for i, it := range o.Items {
			id, name := categoryOf(it.ProductID, products, categories)
			c, ok := byCategory[id]
			if !ok {
				c = &CategoryStats{ID: id, Name: name}
				byCategory[id] = c
			}
			c.Quantity += it.Quantity
			c.Gross += it.Gross()
			c.Discount += shares[i]
		}
	}
	st.Totals.Net = st.Totals.Gross - st.Totals.Discount
	if st.Totals.Orders > 0 {
		st.Totals.AverageTicket = st.Totals.Net / float64(st.Totals.Orders)
	}
	for _, c := range byCategory {
		c.Net = c.Gross - c.Discount
		st.Categories = append(st.Categories, *c)
	}
	slices.SortFunc(st.Categories, func(a, b CategoryStats) int {
		if n := cmp.Compare(b.Net, a.Net); n != 0 {
			return n
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return st
}

// discountShares splits discount over items in proportion to their gross.
// Orders with no gross split it evenly.
func discountShares(items []domain.OrderItem, gross, discount float64) []float64 {
	shares := make([]float64, len(items))
	if discount == 0 || len(items) == 0 {
		return shares
	}
	for i, it := range items {
		if gross > 0 {
			shares[i] = discount * it.Gross() / gross
		} else {
			shares[i] = discount / float64(len(items))
		}
	}
	return shares
}

func categoryOf(productID string, products map[string]domain.ProductEntity, categories map[string]domain.CategoryEntity) (string, string) {
	p, ok := products[productID]
	if !ok {
		return UncategorizedID, UncategorizedName
	}
	c, ok := categories[p.CategoryID]
	if !ok {
		return UncategorizedID, UncategorizedName
	}
	return c.RowKey, c.Name
}
