// Package orders owns the buyer and seller order projections and the
// status transition engine that keeps them, and the inventory ledger, in
// lockstep.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/store"
)

const (
	// CollectionOrders holds one OrderAggregate per buyer.
	CollectionOrders = "orders"
	// CollectionSellerOrders holds one SellerOrderAggregate per seller.
	CollectionSellerOrders = "sellerOrders"
)

// ErrOrderNotFound indicates no record exists for the transaction ID in the
// party's projection.
var ErrOrderNotFound = errors.New("order not found")

// Repository reads and mutates the projection documents. Every write goes
// through the store's per-document atomic read-modify-write, so concurrent
// writers to the same aggregate never lose each other's records.
type Repository struct {
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// BuyerAggregate returns the buyer's projection, or an empty aggregate when
// none exists yet.
func (r *Repository) BuyerAggregate(ctx context.Context, buyerID string) (*entity.OrderAggregate, error) {
	raw, err := r.store.Get(ctx, CollectionOrders, buyerID)
	if errors.Is(err, store.ErrNotFound) {
		return &entity.OrderAggregate{BuyerID: buyerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load orders for buyer %s: %w", buyerID, err)
	}

	var agg entity.OrderAggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("failed to decode orders for buyer %s: %w", buyerID, err)
	}
	return &agg, nil
}

// SellerAggregate returns the seller's projection, or an empty aggregate
// when none exists yet.
func (r *Repository) SellerAggregate(ctx context.Context, sellerID string) (*entity.SellerOrderAggregate, error) {
	raw, err := r.store.Get(ctx, CollectionSellerOrders, sellerID)
	if errors.Is(err, store.ErrNotFound) {
		return &entity.SellerOrderAggregate{SellerID: sellerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load orders for seller %s: %w", sellerID, err)
	}

	var agg entity.SellerOrderAggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("failed to decode orders for seller %s: %w", sellerID, err)
	}
	return &agg, nil
}

// BuyerOrder locates one record in the buyer's projection.
func (r *Repository) BuyerOrder(ctx context.Context, buyerID, transactionID string) (*entity.OrderRecord, error) {
	agg, err := r.BuyerAggregate(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	rec := agg.Find(transactionID)
	if rec == nil {
		return nil, fmt.Errorf("transaction %s for buyer %s: %w", transactionID, buyerID, ErrOrderNotFound)
	}
	return rec, nil
}

// UpdateBuyerAggregate applies mutate to the buyer's projection inside the
// store's atomic read-modify-write, retrying transient failures. mutate
// sees the current document (a fresh aggregate when none exists) and may
// return store.ErrUnchanged to skip the write.
func (r *Repository) UpdateBuyerAggregate(ctx context.Context, buyerID string, mutate func(*entity.OrderAggregate) error) error {
	return store.RetryTransient(ctx, func() error {
		return r.store.AtomicUpdate(ctx, CollectionOrders, buyerID, func(current json.RawMessage) (json.RawMessage, error) {
			agg := entity.OrderAggregate{BuyerID: buyerID}
			if current != nil {
				if err := json.Unmarshal(current, &agg); err != nil {
					return nil, fmt.Errorf("failed to decode orders for buyer %s: %w", buyerID, err)
				}
			}
			if err := mutate(&agg); err != nil {
				return nil, err
			}
			agg.UpdatedAt = time.Now().UTC()
			return json.Marshal(agg)
		})
	})
}

// UpdateSellerAggregate is UpdateBuyerAggregate for the seller projection.
func (r *Repository) UpdateSellerAggregate(ctx context.Context, sellerID string, mutate func(*entity.SellerOrderAggregate) error) error {
	return store.RetryTransient(ctx, func() error {
		return r.store.AtomicUpdate(ctx, CollectionSellerOrders, sellerID, func(current json.RawMessage) (json.RawMessage, error) {
			agg := entity.SellerOrderAggregate{SellerID: sellerID}
			if current != nil {
				if err := json.Unmarshal(current, &agg); err != nil {
					return nil, fmt.Errorf("failed to decode orders for seller %s: %w", sellerID, err)
				}
			}
			if err := mutate(&agg); err != nil {
				return nil, err
			}
			agg.UpdatedAt = time.Now().UTC()
			return json.Marshal(agg)
		})
	})
}
