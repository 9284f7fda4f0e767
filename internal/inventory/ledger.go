// Package inventory owns the per-product stock and sold counters.
//
// Every mutation is idempotent per (transactionID, productID): the ledger
// keeps the history of applied operations inside the product document
// itself, so the idempotency check and the counter change share the one
// atomic read-modify-write the store guarantees per document.
package inventory

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

// CollectionProducts is the store collection holding product documents.
const CollectionProducts = "products"

var (
	// ErrInsufficientStock is returned when a reservation asks for more
	// than the product's current stock. User-correctable, surfaced as-is.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrProductNotFound is returned when the product document is absent.
	ErrProductNotFound = errors.New("product not found")
)

const (
	opReserve = "reserve"
	opRelease = "release"
	opSale    = "sale"
)

// productState is the stored product document: the listing plus the
// ledger's applied-operation history.
type productState struct {
	entity.Product
	Ops map[string]opEntry `json:"ledgerOps,omitempty"`
}

type opEntry struct {
	Quantity  int       `json:"quantity"`
	AppliedAt time.Time `json:"appliedAt"`
}

func opKey(transactionID, kind string) string {
	return transactionID + ":" + kind
}

// Ledger applies reserve/release/record-sale operations to products.
type Ledger struct {
	store store.Store
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Reserve decrements the product's stock by qty, at most once per
// (transactionID, productID). Fails with ErrInsufficientStock when the
// current stock cannot cover qty.
func (l *Ledger) Reserve(ctx context.Context, transactionID, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("reserve quantity must be at least 1, got %d", qty)
	}

	return store.RetryTransient(ctx, func() error {
		return l.store.AtomicUpdate(ctx, CollectionProducts, productID, func(current json.RawMessage) (json.RawMessage, error) {
			st, err := decodeState(current, productID)
			if err != nil {
				return nil, err
			}

			key := opKey(transactionID, opReserve)
			if _, done := st.Ops[key]; done {
				// A reservation that was later rolled back must not be
				// silently treated as still standing.
				if _, released := st.Ops[opKey(transactionID, opRelease)]; released {
					return nil, fmt.Errorf("transaction %s already rolled back for product %s, reservation refused", transactionID, productID)
				}
				slog.Info("Reservation already applied, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}

			if st.Stock < qty {
				return nil, fmt.Errorf("product %s (available: %d, requested: %d): %w",
					productID, st.Stock, qty, ErrInsufficientStock)
			}

			st.Stock -= qty
			st.setOp(key, qty)
			return json.Marshal(st)
		})
	})
}

// Release returns a previously reserved quantity to stock, at most once per
// (transactionID, productID). Releasing without a prior reservation, or
// after the sale was recorded, is a logged no-op.
func (l *Ledger) Release(ctx context.Context, transactionID, productID string, qty int) error {
	return store.RetryTransient(ctx, func() error {
		return l.store.AtomicUpdate(ctx, CollectionProducts, productID, func(current json.RawMessage) (json.RawMessage, error) {
			if current == nil {
				// Product vanished after the order was placed. Nothing to
				// restore the stock onto.
				slog.Warn("Release on missing product, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}
			st, err := decodeState(current, productID)
			if err != nil {
				return nil, err
			}

			key := opKey(transactionID, opRelease)
			if _, done := st.Ops[key]; done {
				slog.Info("Release already applied, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}
			if _, reserved := st.Ops[opKey(transactionID, opReserve)]; !reserved {
				slog.Warn("Release without prior reservation, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}
			if _, sold := st.Ops[opKey(transactionID, opSale)]; sold {
				slog.Warn("Release after recorded sale, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}

			st.Stock += qty
			st.setOp(key, qty)
			return json.Marshal(st)
		})
	})
}

// RecordSale increments the product's sold counter by qty, at most once per
// (transactionID, productID) and only when the transaction still holds an
// unreleased reservation.
func (l *Ledger) RecordSale(ctx context.Context, transactionID, productID string, qty int) error {
	return store.RetryTransient(ctx, func() error {
		return l.store.AtomicUpdate(ctx, CollectionProducts, productID, func(current json.RawMessage) (json.RawMessage, error) {
			if current == nil {
				slog.Warn("Sale on missing product, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}
			st, err := decodeState(current, productID)
			if err != nil {
				return nil, err
			}

			key := opKey(transactionID, opSale)
			if _, done := st.Ops[key]; done {
				slog.Info("Sale already recorded, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}
			if _, reserved := st.Ops[opKey(transactionID, opReserve)]; !reserved {
				slog.Warn("Sale without prior reservation, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}
			if _, released := st.Ops[opKey(transactionID, opRelease)]; released {
				slog.Warn("Sale after release, skipping", "transaction_id", transactionID, "product_id", productID)
				return nil, store.ErrUnchanged
			}

			st.Sold += qty
			st.setOp(key, qty)
			return json.Marshal(st)
		})
	})
}

// Product returns the current listing for productID.
func (l *Ledger) Product(ctx context.Context, productID string) (*entity.Product, error) {
	raw, err := l.store.Get(ctx, CollectionProducts, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	var st productState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", productID, err)
	}
	return &st.Product, nil
}

// SaveProduct creates or updates a listing. The sold counter and the
// operation history survive updates; stock is taken from p as the seller's
// new count.
func (l *Ledger) SaveProduct(ctx context.Context, p entity.Product) error {
	if p.ID == "" || p.SellerID == "" {
		return errors.New("product id and seller id are required")
	}
	if p.Stock < 0 {
		return fmt.Errorf("product stock must be non-negative, got %d", p.Stock)
	}

	return store.RetryTransient(ctx, func() error {
		return l.store.AtomicUpdate(ctx, CollectionProducts, p.ID, func(current json.RawMessage) (json.RawMessage, error) {
			st := productState{Product: p}
			if current != nil {
				var prev productState
				if err := json.Unmarshal(current, &prev); err != nil {
					return nil, fmt.Errorf("failed to decode product %s: %w", p.ID, err)
				}
				st.Sold = prev.Sold
				st.Ops = prev.Ops
			}
			return json.Marshal(st)
		})
	})
}

func (st *productState) setOp(key string, qty int) {
	if st.Ops == nil {
		st.Ops = make(map[string]opEntry)
	}
	st.Ops[key] = opEntry{Quantity: qty, AppliedAt: time.Now().UTC()}
}

func decodeState(current json.RawMessage, productID string) (*productState, error) {
	if current == nil {
		return nil, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	}
	var st productState
	if err := json.Unmarshal(current, &st); err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", productID, err)
	}
	return &st, nil
}
