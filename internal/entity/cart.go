package entity

import "time"

// CartLine is a candidate order line in a buyer's cart.
type CartLine struct {
	ProductID string  `json:"productId"`
	SellerID  string  `json:"sellerId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Selected  bool    `json:"selected"`
	ImageURL  string  `json:"imageUrl"`
	Unit      string  `json:"unit"`
}

// OrderLine converts the cart line into its order representation.
func (l CartLine) OrderLine() OrderLine {
	return OrderLine{
		ProductID: l.ProductID,
		SellerID:  l.SellerID,
		Name:      l.Name,
		Price:     l.Price,
		Quantity:  l.Quantity,
		ImageURL:  l.ImageURL,
		Unit:      l.Unit,
	}
}

// CartAggregate is the per-buyer working set of cart lines. The document is
// deleted from the store once Lines becomes empty.
type CartAggregate struct {
	BuyerID   string     `json:"buyerId"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Find returns the line for the given product, or nil.
func (a *CartAggregate) Find(productID string) *CartLine {
	for i := range a.Lines {
		if a.Lines[i].ProductID == productID {
			return &a.Lines[i]
		}
	}
	return nil
}

// AddOrMerge appends the line, or adds its quantity onto an existing line
// for the same product.
func (a *CartAggregate) AddOrMerge(line CartLine) {
	if existing := a.Find(line.ProductID); existing != nil {
		existing.Quantity += line.Quantity
		return
	}
	a.Lines = append(a.Lines, line)
}

// SetQuantity overwrites the quantity of an existing line. It reports
// whether the product was present.
func (a *CartAggregate) SetQuantity(productID string, qty int) bool {
	line := a.Find(productID)
	if line == nil {
		return false
	}
	line.Quantity = qty
	return true
}

// ToggleSelected flips the checkout selection of a line. It reports whether
// the product was present.
func (a *CartAggregate) ToggleSelected(productID string) bool {
	line := a.Find(productID)
	if line == nil {
		return false
	}
	line.Selected = !line.Selected
	return true
}

// Remove deletes the line for the given product. It reports whether the
// product was present.
func (a *CartAggregate) Remove(productID string) bool {
	for i := range a.Lines {
		if a.Lines[i].ProductID == productID {
			a.Lines = append(a.Lines[:i], a.Lines[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAll deletes every line whose product appears in productIDs. Lines
// already absent are skipped.
func (a *CartAggregate) RemoveAll(productIDs []string) {
	drop := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		drop[id] = true
	}
	kept := a.Lines[:0]
	for _, line := range a.Lines {
		if !drop[line.ProductID] {
			kept = append(kept, line)
		}
	}
	a.Lines = kept
}

// SelectedLines returns the currently selected lines in cart order.
func (a *CartAggregate) SelectedLines() []CartLine {
	var out []CartLine
	for _, line := range a.Lines {
		if line.Selected {
			out = append(out, line)
		}
	}
	return out
}

// Empty reports whether the cart holds no lines.
func (a *CartAggregate) Empty() bool {
	return len(a.Lines) == 0
}
