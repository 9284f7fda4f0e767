package orders

import (
	"context"
	"log/slog"

	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/messaging"
)

// Subscription produces live, continuously updated projection snapshots.
// Each call emits the current aggregate first, then a fresh snapshot after
// every change event for the watched key, so re-subscribing always
// reproduces the full current state.
type Subscription struct {
	repo   *Repository
	broker messaging.Broker
}

func NewSubscription(repo *Repository, broker messaging.Broker) *Subscription {
	return &Subscription{repo: repo, broker: broker}
}

// Buyer streams the buyer's order aggregate until ctx is cancelled.
func (s *Subscription) Buyer(ctx context.Context, buyerID string) (<-chan entity.OrderAggregate, error) {
	out := make(chan entity.OrderAggregate, 1)
	err := s.watch(ctx, CollectionOrders, buyerID, func(ctx context.Context) bool {
		agg, err := s.repo.BuyerAggregate(ctx, buyerID)
		if err != nil {
			slog.Warn("Failed to refresh buyer order snapshot", "buyer_id", buyerID, "err", err)
			return true
		}
		select {
		case out <- *agg:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Seller streams the seller's order aggregate until ctx is cancelled.
func (s *Subscription) Seller(ctx context.Context, sellerID string) (<-chan entity.SellerOrderAggregate, error) {
	out := make(chan entity.SellerOrderAggregate, 1)
	err := s.watch(ctx, CollectionSellerOrders, sellerID, func(ctx context.Context) bool {
		agg, err := s.repo.SellerAggregate(ctx, sellerID)
		if err != nil {
			slog.Warn("Failed to refresh seller order snapshot", "seller_id", sellerID, "err", err)
			return true
		}
		select {
		case out <- *agg:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// watch subscribes to the collection's change topic, emits one initial
// snapshot, then re-emits after every event matching key. emit reports
// whether watching should continue.
func (s *Subscription) watch(ctx context.Context, collection, key string, emit func(context.Context) bool, done func()) error {
	sub, err := s.broker.NewSubscriber()
	if err != nil {
		return err
	}

	msgs, err := sub.Subscribe(ctx, messaging.TopicFor(collection))
	if err != nil {
		return err
	}

	go func() {
		defer done()
		defer func() {
			if err := sub.Close(); err != nil {
				slog.Warn("Failed to close change subscriber", "collection", collection, "err", err)
			}
		}()

		if !emit(ctx) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := messaging.DecodeChangeEvent(msg)
				msg.Ack()
				if err != nil {
					slog.Warn("Dropping malformed change event", "collection", collection, "err", err)
					continue
				}
				if ev.Key != key {
					continue
				}
				if !emit(ctx) {
					return
				}
			}
		}
	}()
	return nil
}
