// Package notification merges the buyer and seller order projections into
// a single feed ordered by event time. Read-only: it never writes, and
// re-subscribing reproduces the full current feed.
package notification

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/orders"
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// Item is one feed entry derived from an order record.
type Item struct {
	TransactionID string    `json:"transactionId"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	LastEventTime time.Time `json:"lastEventTime"`
	Thumbnail     string    `json:"thumbnail"`
}

type Feed struct {
	repo *orders.Repository
	sub  *orders.Subscription
}

func NewFeed(repo *orders.Repository, sub *orders.Subscription) *Feed {
	return &Feed{repo: repo, sub: sub}
}

// Snapshot returns the party's current merged feed, newest first. A party
// that is both a buyer and a seller sees both sides.
func (f *Feed) Snapshot(ctx context.Context, partyID string) ([]Item, error) {
	buyer, err := f.repo.BuyerAggregate(ctx, partyID)
	if err != nil {
		return nil, err
	}
	seller, err := f.repo.SellerAggregate(ctx, partyID)
	if err != nil {
		return nil, err
	}
	return merge(buyer, seller), nil
}

// Subscribe streams the merged feed until ctx is cancelled. The current
// feed is emitted first, then a fresh merge after every projection change.
func (f *Feed) Subscribe(ctx context.Context, partyID string) (<-chan []Item, error) {
	buyerCh, err := f.sub.Buyer(ctx, partyID)
	if err != nil {
		return nil, err
	}
	sellerCh, err := f.sub.Seller(ctx, partyID)
	if err != nil {
		return nil, err
	}

	out := make(chan []Item, 1)
	go func() {
		defer close(out)

		var (
			buyer  = &entity.OrderAggregate{BuyerID: partyID}
			seller = &entity.SellerOrderAggregate{SellerID: partyID}
		)
		for buyerCh != nil || sellerCh != nil {
			select {
			case <-ctx.Done():
				return
			case agg, ok := <-buyerCh:
				if !ok {
					buyerCh = nil
					continue
				}
				buyer = &agg
			case agg, ok := <-sellerCh:
				if !ok {
					sellerCh = nil
					continue
				}
				seller = &agg
			}

			select {
			case out <- merge(buyer, seller):
			case <-ctx.Done():
				return
			}
		}
		slog.Info("Notification feed closed", "party_id", partyID)
	}()
	return out, nil
}

func merge(buyer *entity.OrderAggregate, seller *entity.SellerOrderAggregate) []Item {
	items := make([]Item, 0, len(buyer.Orders)+len(seller.Orders))
	for _, o := range buyer.Orders {
		items = append(items, Item{
			TransactionID: o.TransactionID,
			Role:          RoleBuyer,
			Status:        o.Status.String(),
			Message:       buyerMessage(o.Status),
			LastEventTime: o.UpdatedAt,
			Thumbnail:     thumbnail(o.Items),
		})
	}
	for _, o := range seller.Orders {
		items = append(items, Item{
			TransactionID: o.TransactionID,
			Role:          RoleSeller,
			Status:        o.Status.String(),
			Message:       sellerMessage(o.Status),
			LastEventTime: o.UpdatedAt,
			Thumbnail:     thumbnail(o.Items),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LastEventTime.After(items[j].LastEventTime)
	})
	return items
}

func thumbnail(items []entity.OrderLine) string {
	if len(items) == 0 {
		return ""
	}
	return items[0].ImageURL
}

func buyerMessage(s entity.Status) string {
	switch s {
	case entity.StatusToPay:
		return "is pending confirmation"
	case entity.StatusToShip:
		return "is being prepared for shipping"
	case entity.StatusToReceive:
		return "has been shipped"
	case entity.StatusCompleted:
		return "has been completed"
	case entity.StatusCancelled:
		return "has been cancelled"
	}
	return "has an updated status: " + s.String()
}

func sellerMessage(s entity.SellerStatus) string {
	switch s {
	case entity.SellerStatusUpcoming:
		return "is new and awaiting confirmation"
	case entity.SellerStatusToShip:
		return "needs to be shipped"
	case entity.SellerStatusShipped:
		return "has been shipped"
	case entity.SellerStatusCompleted:
		return "has been completed"
	case entity.SellerStatusCancelled:
		return "has been cancelled"
	}
	return "has an updated status: " + s.String()
}
