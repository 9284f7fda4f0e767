package entity

import (
	"time"
)

// Product represents a listing owned by a seller. Stock and Sold are
// mutated only by the inventory ledger.
type Product struct {
	ID       string  `json:"id"`
	SellerID string  `json:"sellerId"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
	Stock    int     `json:"stock"`
	Sold     int     `json:"sold"`
	ImageURL string  `json:"imageUrl"`
}

// CustomerInfo is the delivery contact snapshot taken at checkout.
type CustomerInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// OrderLine is a line item within an order.
type OrderLine struct {
	ProductID string  `json:"productId"`
	SellerID  string  `json:"sellerId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	ImageURL  string  `json:"imageUrl"`
	Unit      string  `json:"unit"`
}

// Subtotal returns price times quantity for this line.
func (l OrderLine) Subtotal() float64 {
	return l.Price * float64(l.Quantity)
}

// OrderRecord is the buyer's copy of an order. Exactly one exists per
// transaction ID, inside the buyer's OrderAggregate.
type OrderRecord struct {
	TransactionID string       `json:"transactionId"`
	Items         []OrderLine  `json:"items"`
	Subtotal      float64      `json:"subtotal"`
	ShippingFee   float64      `json:"shippingFee"`
	Total         float64      `json:"total"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	CustomerInfo  CustomerInfo `json:"customerInfo"`
}

// SellerIDs returns the distinct sellers represented in the order's items,
// in first-appearance order.
func (o OrderRecord) SellerIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	var out []string
	for _, item := range o.Items {
		if !seen[item.SellerID] {
			seen[item.SellerID] = true
			out = append(out, item.SellerID)
		}
	}
	return out
}

// SellerOrderRecord is one seller's copy of an order: only that seller's
// subset of items, with cost fields recomputed over the subset. Sellers do
// not collect the order-level shipping fee.
type SellerOrderRecord struct {
	TransactionID string       `json:"transactionId"`
	BuyerID       string       `json:"buyerId"`
	Items         []OrderLine  `json:"items"`
	Subtotal      float64      `json:"subtotal"`
	Total         float64      `json:"total"`
	Status        SellerStatus `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	CustomerInfo  CustomerInfo `json:"customerInfo"`
}

// OrderAggregate is the per-buyer projection document.
type OrderAggregate struct {
	BuyerID   string        `json:"buyerId"`
	Orders    []OrderRecord `json:"orders"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Find returns the record with the given transaction ID, or nil.
func (a *OrderAggregate) Find(transactionID string) *OrderRecord {
	for i := range a.Orders {
		if a.Orders[i].TransactionID == transactionID {
			return &a.Orders[i]
		}
	}
	return nil
}

// SellerOrderAggregate is the per-seller projection document.
type SellerOrderAggregate struct {
	SellerID  string              `json:"sellerId"`
	Orders    []SellerOrderRecord `json:"orders"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Find returns the record with the given transaction ID, or nil.
func (a *SellerOrderAggregate) Find(transactionID string) *SellerOrderRecord {
	for i := range a.Orders {
		if a.Orders[i].TransactionID == transactionID {
			return &a.Orders[i]
		}
	}
	return nil
}
