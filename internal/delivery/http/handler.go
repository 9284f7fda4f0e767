package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/palengke/marketplace/internal/cart"
	"github.com/palengke/marketplace/internal/checkout"
	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/identity"
	"github.com/palengke/marketplace/internal/inventory"
	"github.com/palengke/marketplace/internal/notification"
	"github.com/palengke/marketplace/internal/orders"
)

// Handler exposes the order lifecycle operations over JSON.
type Handler struct {
	ids    identity.Provider
	ledger *inventory.Ledger
	cart   *cart.Service
	writer *checkout.Writer
	engine *orders.Engine
	repo   *orders.Repository
	feed   *notification.Feed
}

func NewHandler(
	ids identity.Provider,
	ledger *inventory.Ledger,
	cartSvc *cart.Service,
	writer *checkout.Writer,
	engine *orders.Engine,
	repo *orders.Repository,
	feed *notification.Feed,
) *Handler {
	return &Handler{
		ids:    ids,
		ledger: ledger,
		cart:   cartSvc,
		writer: writer,
		engine: engine,
		repo:   repo,
		feed:   feed,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products/{productID}", h.handleGetProduct)
	mux.HandleFunc("PUT /api/products/{productID}", h.handleSaveProduct)

	mux.HandleFunc("GET /api/cart", h.handleGetCart)
	mux.HandleFunc("POST /api/cart/items", h.handleAddCartLine)
	mux.HandleFunc("PATCH /api/cart/items/{productID}", h.handleUpdateCartLine)
	mux.HandleFunc("DELETE /api/cart/items/{productID}", h.handleRemoveCartLine)

	mux.HandleFunc("POST /api/orders", h.handlePlaceOrder)
	mux.HandleFunc("GET /api/orders", h.handleGetOrders)
	mux.HandleFunc("POST /api/orders/{transactionID}/confirm", h.handleConfirmOrder)
	mux.HandleFunc("POST /api/orders/{transactionID}/ship", h.handleShipOrder)
	mux.HandleFunc("POST /api/orders/{transactionID}/receive", h.handleReceiveOrder)
	mux.HandleFunc("POST /api/orders/{transactionID}/cancel", h.handleCancelOrder)

	mux.HandleFunc("GET /api/notifications", h.handleGetNotifications)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.ledger.Product(r.Context(), r.PathValue("productID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) handleSaveProduct(w http.ResponseWriter, r *http.Request) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var product entity.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	product.ID = r.PathValue("productID")
	product.SellerID = caller.ID

	if err := h.ledger.SaveProduct(r.Context(), product); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	agg, err := h.cart.Get(r.Context(), caller.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleAddCartLine(w http.ResponseWriter, r *http.Request) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var line entity.CartLine
	if err := json.NewDecoder(r.Body).Decode(&line); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.cart.AddOrMerge(r.Context(), caller.ID, line); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateCartLineRequest struct {
	Quantity       *int `json:"quantity"`
	ToggleSelected bool `json:"toggleSelected"`
}

func (h *Handler) handleUpdateCartLine(w http.ResponseWriter, r *http.Request) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req updateCartLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	productID := r.PathValue("productID")
	if req.Quantity != nil {
		if err := h.cart.SetQuantity(r.Context(), caller.ID, productID, *req.Quantity); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.ToggleSelected {
		if err := h.cart.ToggleSelected(r.Context(), caller.ID, productID); err != nil {
			h.writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveCartLine(w http.ResponseWriter, r *http.Request) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.cart.Remove(r.Context(), caller.ID, r.PathValue("productID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type placeOrderRequest struct {
	TransactionID string              `json:"transactionId,omitempty"`
	CustomerInfo  entity.CustomerInfo `json:"customerInfo"`
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	lines, err := h.cart.SelectedLines(r.Context(), caller.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	transactionID, err := h.writer.PlaceOrder(r.Context(), checkout.PlaceOrderInput{
		BuyerID:       caller.ID,
		TransactionID: req.TransactionID,
		Lines:         lines,
		Customer:      req.CustomerInfo,
	})
	if err != nil {
		slog.Error("Failed to place order", "buyer_id", caller.ID, "err", err)
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"transactionId": transactionID,
		"status":        entity.StatusToPay.String(),
	})
}

func (h *Handler) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.URL.Query().Get("role") == notification.RoleSeller {
		agg, err := h.repo.SellerAggregate(r.Context(), caller.ID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agg)
		return
	}

	agg, err := h.repo.BuyerAggregate(r.Context(), caller.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Confirm)
}

func (h *Handler) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Ship)
}

func (h *Handler) handleReceiveOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.MarkReceived)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("role") == notification.RoleSeller {
		h.transition(w, r, h.engine.CancelBySeller)
		return
	}
	h.transition(w, r, h.engine.CancelByBuyer)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, partyID, transactionID string) error) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := apply(r.Context(), caller.ID, r.PathValue("transactionID")); err != nil {
		slog.Error("Failed to apply order transition",
			"party_id", caller.ID, "transaction_id", r.PathValue("transactionID"), "err", err)
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	caller, err := h.ids.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	feed, err := h.feed.Snapshot(r.Context(), caller.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

// writeError maps domain errors onto the error taxonomy's user-visible
// behavior: user-correctable failures surface verbatim, everything else as
// one generic message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		http.Error(w, "authentication required", http.StatusUnauthorized)
	case errors.Is(err, inventory.ErrInsufficientStock):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, cart.ErrConfirmRemoval):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, checkout.ErrEmptyOrder):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, orders.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, orders.ErrInvalidTransition):
		// State error, not user-correctable: generic failure.
		http.Error(w, "operation failed", http.StatusConflict)
	default:
		http.Error(w, "operation failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
