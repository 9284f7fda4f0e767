// Package checkout converts a buyer's selected cart lines into one buyer
// order record and one seller record per involved seller, reserving
// inventory as it goes. The whole placement is resumable: re-invoking with
// the same transaction ID after a crash or timeout never double-reserves
// stock or duplicates projection records.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/palengke/marketplace/internal/cart"
	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/inventory"
	"github.com/palengke/marketplace/internal/orders"
	"github.com/palengke/marketplace/internal/store"
)

// maxIDAttempts bounds regeneration when a freshly generated transaction ID
// collides with an existing record.
const maxIDAttempts = 3

var (
	// ErrEmptyOrder indicates placement with no selected lines.
	ErrEmptyOrder = errors.New("order must contain at least one line")

	// ErrPlacementFailed indicates a placement that could not be committed
	// after retries. Reservations made so far stand; re-invoking with the
	// returned transaction ID resumes where the previous attempt stopped.
	ErrPlacementFailed = errors.New("order placement failed")
)

type Writer struct {
	repo        *orders.Repository
	ledger      *inventory.Ledger
	cart        *cart.Service
	shippingFee float64
}

func NewWriter(repo *orders.Repository, ledger *inventory.Ledger, cartSvc *cart.Service, shippingFee float64) *Writer {
	return &Writer{repo: repo, ledger: ledger, cart: cartSvc, shippingFee: shippingFee}
}

// PlaceOrderInput carries one placement attempt. TransactionID is left
// empty on a first attempt and set when resuming an earlier one.
type PlaceOrderInput struct {
	BuyerID       string
	TransactionID string
	Lines         []entity.CartLine
	Customer      entity.CustomerInfo
}

// PlaceOrder runs the fan-out: reserve every line, write the buyer record
// and one record per seller under a shared transaction ID, then clear the
// consumed lines from the cart. On any reservation failing with
// insufficient stock, reservations already made are rolled back and no
// record is written.
func (w *Writer) PlaceOrder(ctx context.Context, in PlaceOrderInput) (string, error) {
	if in.BuyerID == "" {
		return "", errors.New("buyer id is required")
	}
	if len(in.Lines) == 0 {
		return "", ErrEmptyOrder
	}
	for _, line := range in.Lines {
		if line.Quantity < 1 {
			return "", fmt.Errorf("line for product %s: quantity must be at least 1, got %d", line.ProductID, line.Quantity)
		}
	}

	transactionID, resumed, err := w.allocateID(ctx, in)
	if err != nil {
		return "", err
	}
	if resumed {
		// Projections already committed by the earlier attempt; only the
		// cart cleanup may still be outstanding.
		if err := w.consumeLines(ctx, in); err != nil {
			return transactionID, err
		}
		slog.Info("Order placement resumed, already committed", "transaction_id", transactionID, "buyer_id", in.BuyerID)
		return transactionID, nil
	}

	if err := w.reserveAll(ctx, transactionID, in.Lines); err != nil {
		return "", err
	}

	if err := w.writeProjections(ctx, transactionID, in); err != nil {
		return transactionID, fmt.Errorf("%w: %w", ErrPlacementFailed, err)
	}

	if err := w.consumeLines(ctx, in); err != nil {
		return transactionID, err
	}

	slog.Info("Order placed",
		"transaction_id", transactionID, "buyer_id", in.BuyerID, "lines", len(in.Lines))
	return transactionID, nil
}

// allocateID picks the transaction ID for this attempt. A caller-supplied
// ID that already has a buyer record means the attempt resumes; a freshly
// generated ID that collides is replaced, invisibly to the caller.
func (w *Writer) allocateID(ctx context.Context, in PlaceOrderInput) (transactionID string, resumed bool, err error) {
	transactionID = in.TransactionID
	generated := transactionID == ""

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if generated {
			transactionID = uuid.New().String()
		}

		agg, err := w.repo.BuyerAggregate(ctx, in.BuyerID)
		if err != nil {
			return "", false, fmt.Errorf("%w: %w", ErrPlacementFailed, err)
		}
		if agg.Find(transactionID) == nil {
			return transactionID, false, nil
		}
		if !generated {
			return transactionID, true, nil
		}
		slog.Warn("Generated transaction id collided, regenerating", "transaction_id", transactionID)
	}

	return "", false, fmt.Errorf("%w: could not allocate a unique transaction id", ErrPlacementFailed)
}

// reserveAll reserves stock for every line. On insufficient stock it
// releases what this transaction already reserved; a partial reservation is
// never left standing.
func (w *Writer) reserveAll(ctx context.Context, transactionID string, lines []entity.CartLine) error {
	reserved := make([]entity.CartLine, 0, len(lines))
	for _, line := range lines {
		err := w.ledger.Reserve(ctx, transactionID, line.ProductID, line.Quantity)
		if err == nil {
			reserved = append(reserved, line)
			continue
		}

		for _, r := range reserved {
			if rerr := w.ledger.Release(ctx, transactionID, r.ProductID, r.Quantity); rerr != nil {
				// The release is idempotent per (transaction, product), so
				// a later cleanup can finish the rollback.
				slog.Error("Failed to roll back reservation",
					"transaction_id", transactionID, "product_id", r.ProductID, "err", rerr)
			}
		}

		if errors.Is(err, inventory.ErrInsufficientStock) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPlacementFailed, err)
	}
	return nil
}

// writeProjections appends the buyer record and every seller record, each
// inside the store's atomic read-modify-write so a concurrent writer to the
// same aggregate is never overwritten. Records that already exist for the
// transaction are left untouched, so a retried write never duplicates.
func (w *Writer) writeProjections(ctx context.Context, transactionID string, in PlaceOrderInput) error {
	now := time.Now().UTC()

	items := make([]entity.OrderLine, 0, len(in.Lines))
	subtotal := 0.0
	for _, line := range in.Lines {
		items = append(items, line.OrderLine())
		subtotal += line.Price * float64(line.Quantity)
	}

	err := w.repo.UpdateBuyerAggregate(ctx, in.BuyerID, func(agg *entity.OrderAggregate) error {
		if agg.Find(transactionID) != nil {
			return store.ErrUnchanged
		}
		agg.Orders = append(agg.Orders, entity.OrderRecord{
			TransactionID: transactionID,
			Items:         items,
			Subtotal:      subtotal,
			ShippingFee:   w.shippingFee,
			Total:         subtotal + w.shippingFee,
			Status:        entity.StatusToPay,
			CreatedAt:     now,
			UpdatedAt:     now,
			CustomerInfo:  in.Customer,
		})
		return nil
	})
	if err != nil {
		return err
	}

	for _, group := range groupBySeller(items) {
		err := w.repo.UpdateSellerAggregate(ctx, group.sellerID, func(agg *entity.SellerOrderAggregate) error {
			if agg.Find(transactionID) != nil {
				return store.ErrUnchanged
			}
			sellerSubtotal := 0.0
			for _, item := range group.items {
				sellerSubtotal += item.Subtotal()
			}
			agg.Orders = append(agg.Orders, entity.SellerOrderRecord{
				TransactionID: transactionID,
				BuyerID:       in.BuyerID,
				Items:         group.items,
				Subtotal:      sellerSubtotal,
				Total:         sellerSubtotal,
				Status:        entity.SellerStatusUpcoming,
				CreatedAt:     now,
				UpdatedAt:     now,
				CustomerInfo:  in.Customer,
			})
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// consumeLines removes the ordered lines from the buyer's cart. Safe to
// repeat: lines already gone are skipped and an emptied cart document is
// deleted.
func (w *Writer) consumeLines(ctx context.Context, in PlaceOrderInput) error {
	productIDs := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	if err := w.cart.RemoveLines(ctx, in.BuyerID, productIDs); err != nil {
		return fmt.Errorf("%w: failed to clear ordered lines from cart: %w", ErrPlacementFailed, err)
	}
	return nil
}

type sellerGroup struct {
	sellerID string
	items    []entity.OrderLine
}

// groupBySeller splits items per seller, keeping first-appearance order.
func groupBySeller(items []entity.OrderLine) []sellerGroup {
	index := make(map[string]int)
	var groups []sellerGroup
	for _, item := range items {
		i, ok := index[item.SellerID]
		if !ok {
			i = len(groups)
			index[item.SellerID] = i
			groups = append(groups, sellerGroup{sellerID: item.SellerID})
		}
		groups[i].items = append(groups[i].items, item)
	}
	return groups
}
