// Package cart maintains the per-buyer working set of candidate order
// lines. Concurrent sessions of the same buyer are last-writer-wins on the
// whole aggregate; the document is deleted once its last line goes.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/store"
)

const collection = "carts"

var (
	// ErrLineNotFound indicates the product has no line in the cart.
	ErrLineNotFound = errors.New("cart line not found")

	// ErrConfirmRemoval is returned when a quantity edit reaches zero. The
	// caller must either restore the previous quantity or issue an
	// explicit Remove; the edit itself writes nothing.
	ErrConfirmRemoval = errors.New("quantity cleared, confirm removal or restore the previous quantity")
)

type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Get returns the buyer's cart, or an empty aggregate when none exists.
func (s *Service) Get(ctx context.Context, buyerID string) (*entity.CartAggregate, error) {
	raw, err := s.store.Get(ctx, collection, buyerID)
	if errors.Is(err, store.ErrNotFound) {
		return &entity.CartAggregate{BuyerID: buyerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart for %s: %w", buyerID, err)
	}

	var agg entity.CartAggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("failed to decode cart for %s: %w", buyerID, err)
	}
	return &agg, nil
}

// AddOrMerge puts the line into the cart, merging quantity onto an existing
// line for the same product.
func (s *Service) AddOrMerge(ctx context.Context, buyerID string, line entity.CartLine) error {
	if line.ProductID == "" || line.SellerID == "" {
		return errors.New("cart line product id and seller id are required")
	}
	if line.Quantity < 1 {
		return fmt.Errorf("cart line quantity must be at least 1, got %d", line.Quantity)
	}
	if line.Price < 0 {
		return fmt.Errorf("cart line price cannot be negative, got %f", line.Price)
	}

	return s.update(ctx, buyerID, func(agg *entity.CartAggregate) error {
		agg.AddOrMerge(line)
		return nil
	})
}

// SetQuantity overwrites a line's quantity. A zero quantity triggers the
// removal confirmation contract instead of writing.
func (s *Service) SetQuantity(ctx context.Context, buyerID, productID string, qty int) error {
	if qty == 0 {
		return ErrConfirmRemoval
	}
	if qty < 0 {
		return fmt.Errorf("cart line quantity cannot be negative, got %d", qty)
	}

	return s.update(ctx, buyerID, func(agg *entity.CartAggregate) error {
		if !agg.SetQuantity(productID, qty) {
			return fmt.Errorf("product %s: %w", productID, ErrLineNotFound)
		}
		return nil
	})
}

// ToggleSelected flips a line's checkout selection.
func (s *Service) ToggleSelected(ctx context.Context, buyerID, productID string) error {
	return s.update(ctx, buyerID, func(agg *entity.CartAggregate) error {
		if !agg.ToggleSelected(productID) {
			return fmt.Errorf("product %s: %w", productID, ErrLineNotFound)
		}
		return nil
	})
}

// Remove deletes a line from the cart.
func (s *Service) Remove(ctx context.Context, buyerID, productID string) error {
	return s.update(ctx, buyerID, func(agg *entity.CartAggregate) error {
		if !agg.Remove(productID) {
			return fmt.Errorf("product %s: %w", productID, ErrLineNotFound)
		}
		return nil
	})
}

// RemoveLines drops every line whose product appears in productIDs. Absent
// lines are skipped, which makes the call safe to repeat — checkout relies
// on that when it resumes after a crash.
func (s *Service) RemoveLines(ctx context.Context, buyerID string, productIDs []string) error {
	return s.update(ctx, buyerID, func(agg *entity.CartAggregate) error {
		agg.RemoveAll(productIDs)
		return nil
	})
}

// SelectedLines returns the currently selected lines in cart order, the
// checkout input.
func (s *Service) SelectedLines(ctx context.Context, buyerID string) ([]entity.CartLine, error) {
	agg, err := s.Get(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return agg.SelectedLines(), nil
}

// update applies mutate to the aggregate and deletes the document when the
// last line is gone.
func (s *Service) update(ctx context.Context, buyerID string, mutate func(*entity.CartAggregate) error) error {
	empty := false

	err := store.RetryTransient(ctx, func() error {
		return s.store.AtomicUpdate(ctx, collection, buyerID, func(current json.RawMessage) (json.RawMessage, error) {
			agg := entity.CartAggregate{BuyerID: buyerID}
			if current != nil {
				if err := json.Unmarshal(current, &agg); err != nil {
					return nil, fmt.Errorf("failed to decode cart for %s: %w", buyerID, err)
				}
			}

			if err := mutate(&agg); err != nil {
				return nil, err
			}

			empty = agg.Empty()
			if empty && current == nil {
				return nil, store.ErrUnchanged
			}
			agg.UpdatedAt = time.Now().UTC()
			return json.Marshal(agg)
		})
	})
	if err != nil {
		return err
	}

	if empty {
		if err := store.RetryTransient(ctx, func() error {
			return s.store.Delete(ctx, collection, buyerID)
		}); err != nil {
			return fmt.Errorf("failed to delete empty cart for %s: %w", buyerID, err)
		}
		slog.Info("Cart emptied and deleted", "buyer_id", buyerID)
	}
	return nil
}
