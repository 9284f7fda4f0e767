package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/inventory"
	"github.com/palengke/marketplace/internal/store"
)

var (
	// ErrInvalidTransition indicates the current status does not permit the
	// requested transition. No writes are made.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTransitionFailed indicates the transition could not be fully
	// applied. The record keeps its pre-transition status; retrying the
	// whole transition is safe.
	ErrTransitionFailed = errors.New("status transition failed")
)

var allowedSellerTransitions = map[entity.SellerStatus]map[entity.SellerStatus]bool{
	entity.SellerStatusUpcoming: {
		entity.SellerStatusToShip:    true,
		entity.SellerStatusCancelled: true,
	},
	entity.SellerStatusToShip: {
		entity.SellerStatusShipped:   true,
		entity.SellerStatusCancelled: true,
	},
	entity.SellerStatusShipped: {
		entity.SellerStatusCompleted: true,
	},
	entity.SellerStatusCompleted: {},
	entity.SellerStatusCancelled: {},
}

var allowedBuyerTransitions = map[entity.Status]map[entity.Status]bool{
	entity.StatusToPay: {
		entity.StatusCancelled: true,
	},
	entity.StatusToReceive: {
		entity.StatusCompleted: true,
	},
}

// Engine applies buyer- and seller-initiated status transitions, keeping
// both projections and the inventory ledger consistent. Each projection
// document is mutated inside the store's atomic read-modify-write, so a
// transition racing a concurrent placement on the same party never erases
// the other's record. Every transition is safe to retry: projection writes
// converge on the same status and ledger side effects dedupe on their
// idempotency keys.
type Engine struct {
	repo   *Repository
	ledger *inventory.Ledger
}

func NewEngine(repo *Repository, ledger *inventory.Ledger) *Engine {
	return &Engine{repo: repo, ledger: ledger}
}

// Confirm is the seller accepting a new order: upcoming -> to_ship.
func (e *Engine) Confirm(ctx context.Context, sellerID, transactionID string) error {
	return e.sellerTransition(ctx, sellerID, transactionID, entity.SellerStatusToShip)
}

// Ship marks the seller's subset as shipped: to_ship -> shipped, buyer side
// flips to to_receive.
func (e *Engine) Ship(ctx context.Context, sellerID, transactionID string) error {
	return e.sellerTransition(ctx, sellerID, transactionID, entity.SellerStatusShipped)
}

// CancelBySeller cancels the seller's queue entry before shipment and
// releases stock for that seller's lines only.
func (e *Engine) CancelBySeller(ctx context.Context, sellerID, transactionID string) error {
	return e.sellerTransition(ctx, sellerID, transactionID, entity.SellerStatusCancelled)
}

// MarkReceived is the buyer confirming receipt: to_receive -> completed.
// Every seller record flips to completed and the sale is recorded for every
// line in the order.
func (e *Engine) MarkReceived(ctx context.Context, buyerID, transactionID string) error {
	return e.buyerTransition(ctx, buyerID, transactionID, entity.StatusCompleted)
}

// CancelByBuyer cancels the whole order while it is still awaiting seller
// confirmation (to_pay) and releases every reservation.
func (e *Engine) CancelByBuyer(ctx context.Context, buyerID, transactionID string) error {
	return e.buyerTransition(ctx, buyerID, transactionID, entity.StatusCancelled)
}

func (e *Engine) sellerTransition(ctx context.Context, sellerID, transactionID string, target entity.SellerStatus) error {
	var (
		rec    entity.SellerOrderRecord
		resume bool
	)
	err := e.repo.UpdateSellerAggregate(ctx, sellerID, func(agg *entity.SellerOrderAggregate) error {
		r := agg.Find(transactionID)
		if r == nil {
			return fmt.Errorf("transaction %s for seller %s: %w", transactionID, sellerID, ErrOrderNotFound)
		}
		if resume = r.Status == target; resume {
			rec = *r
			return store.ErrUnchanged
		}
		if !allowedSellerTransitions[r.Status][target] {
			return fmt.Errorf("seller order %s: %s -> %s: %w", transactionID, r.Status, target, ErrInvalidTransition)
		}
		r.Status = target
		r.UpdatedAt = time.Now().UTC()
		rec = *r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransitionFailed, err)
	}

	// The buyer record flips to the mapped status exactly once. A terminal
	// buyer status stays put: another seller's cancel must not be undone.
	buyerTarget := entity.BuyerStatusFor(target)
	err = e.repo.UpdateBuyerAggregate(ctx, rec.BuyerID, func(agg *entity.OrderAggregate) error {
		brec := agg.Find(transactionID)
		if brec == nil {
			slog.Warn("Buyer record missing for transaction", "transaction_id", transactionID, "buyer_id", rec.BuyerID)
			return store.ErrUnchanged
		}
		if brec.Status == buyerTarget || brec.Status.Terminal() {
			return store.ErrUnchanged
		}
		brec.Status = buyerTarget
		brec.UpdatedAt = rec.UpdatedAt
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransitionFailed, err)
	}

	// Side effects run on resume too: a crash between the projection write
	// and the ledger calls must be recoverable by retrying the transition.
	if target == entity.SellerStatusCancelled {
		for _, item := range rec.Items {
			if err := e.ledger.Release(ctx, transactionID, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("%w: failed to release stock for product %s: %w", ErrTransitionFailed, item.ProductID, err)
			}
		}
	}

	slog.Info("Seller order status updated",
		"seller_id", sellerID, "transaction_id", transactionID, "status", target, "resumed", resume)
	return nil
}

func (e *Engine) buyerTransition(ctx context.Context, buyerID, transactionID string, target entity.Status) error {
	var (
		rec    entity.OrderRecord
		resume bool
	)
	err := e.repo.UpdateBuyerAggregate(ctx, buyerID, func(agg *entity.OrderAggregate) error {
		r := agg.Find(transactionID)
		if r == nil {
			return fmt.Errorf("transaction %s for buyer %s: %w", transactionID, buyerID, ErrOrderNotFound)
		}
		if resume = r.Status == target; resume {
			rec = *r
			return store.ErrUnchanged
		}
		if !allowedBuyerTransitions[r.Status][target] {
			return fmt.Errorf("order %s: %s -> %s: %w", transactionID, r.Status, target, ErrInvalidTransition)
		}
		r.Status = target
		r.UpdatedAt = time.Now().UTC()
		rec = *r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransitionFailed, err)
	}

	sellerTarget := entity.SellerStatusFor(target)
	for _, sellerID := range rec.SellerIDs() {
		err := e.repo.UpdateSellerAggregate(ctx, sellerID, func(agg *entity.SellerOrderAggregate) error {
			srec := agg.Find(transactionID)
			if srec == nil {
				slog.Warn("Seller record missing for transaction", "transaction_id", transactionID, "seller_id", sellerID)
				return store.ErrUnchanged
			}
			if srec.Status == sellerTarget || srec.Status.Terminal() {
				return store.ErrUnchanged
			}
			srec.Status = sellerTarget
			srec.UpdatedAt = rec.UpdatedAt
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransitionFailed, err)
		}
	}

	switch target {
	case entity.StatusCompleted:
		for _, item := range rec.Items {
			if err := e.ledger.RecordSale(ctx, transactionID, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("%w: failed to record sale for product %s: %w", ErrTransitionFailed, item.ProductID, err)
			}
		}
	case entity.StatusCancelled:
		for _, item := range rec.Items {
			if err := e.ledger.Release(ctx, transactionID, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("%w: failed to release stock for product %s: %w", ErrTransitionFailed, item.ProductID, err)
			}
		}
	}

	slog.Info("Order status updated",
		"buyer_id", buyerID, "transaction_id", transactionID, "status", target, "resumed", resume)
	return nil
}
