package notification_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/messaging"
	"github.com/palengke/marketplace/internal/notification"
	"github.com/palengke/marketplace/internal/orders"
	"github.com/palengke/marketplace/internal/store/memory"
)

func seedProjections(t *testing.T, repo *orders.Repository) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpdateBuyerAggregate(ctx, "maria", func(agg *entity.OrderAggregate) error {
		agg.Orders = append(agg.Orders,
			entity.OrderRecord{
				TransactionID: "tx-old",
				Items:         []entity.OrderLine{{ProductID: "p1", SellerID: "pedro", ImageURL: "img-old"}},
				Status:        entity.StatusToPay,
				UpdatedAt:     base,
			},
			entity.OrderRecord{
				TransactionID: "tx-new",
				Items:         []entity.OrderLine{{ProductID: "p2", SellerID: "pedro", ImageURL: "img-new"}},
				Status:        entity.StatusToShip,
				UpdatedAt:     base.Add(2 * time.Hour),
			},
		)
		return nil
	}))
	require.NoError(t, repo.UpdateSellerAggregate(ctx, "maria", func(agg *entity.SellerOrderAggregate) error {
		agg.Orders = append(agg.Orders, entity.SellerOrderRecord{
			TransactionID: "tx-sold",
			BuyerID:       "juan",
			Items:         []entity.OrderLine{{ProductID: "p9", SellerID: "maria", ImageURL: "img-sold"}},
			Status:        entity.SellerStatusUpcoming,
			UpdatedAt:     base.Add(time.Hour),
		})
		return nil
	}))
}

func TestSnapshotMergesBothRolesNewestFirst(t *testing.T) {
	repo := orders.NewRepository(memory.New())
	seedProjections(t, repo)
	feed := notification.NewFeed(repo, nil)

	items, err := feed.Snapshot(context.Background(), "maria")
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "tx-new", items[0].TransactionID)
	assert.Equal(t, "tx-sold", items[1].TransactionID)
	assert.Equal(t, "tx-old", items[2].TransactionID)

	assert.Equal(t, notification.RoleBuyer, items[0].Role)
	assert.Equal(t, "is being prepared for shipping", items[0].Message)
	assert.Equal(t, "img-new", items[0].Thumbnail)

	assert.Equal(t, notification.RoleSeller, items[1].Role)
	assert.Equal(t, "is new and awaiting confirmation", items[1].Message)

	assert.Equal(t, "is pending confirmation", items[2].Message)
}

func TestSnapshotUnknownPartyIsEmpty(t *testing.T) {
	feed := notification.NewFeed(orders.NewRepository(memory.New()), nil)

	items, err := feed.Snapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func awaitFeed(t *testing.T, ch <-chan []notification.Item, pred func([]notification.Item) bool) []notification.Item {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case items, ok := <-ch:
			require.True(t, ok, "feed closed before the expected update")
			if pred(items) {
				return items
			}
		case <-deadline:
			t.Fatal("timed out waiting for feed update")
		}
	}
}

func TestSubscribeEmitsOnProjectionChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := messaging.NewGoChannel(watermill.NewSlogLogger(slog.Default()))
	defer broker.Close()

	published := messaging.NewPublishedStore(memory.New(), broker)
	repo := orders.NewRepository(published)
	feed := notification.NewFeed(repo, orders.NewSubscription(repo, broker))

	ch, err := feed.Subscribe(ctx, "maria")
	require.NoError(t, err)

	// The initial emission carries the current, still empty, feed.
	awaitFeed(t, ch, func(items []notification.Item) bool { return len(items) == 0 })

	seedProjections(t, repo)

	items := awaitFeed(t, ch, func(items []notification.Item) bool { return len(items) == 3 })
	assert.Equal(t, "tx-new", items[0].TransactionID)
}
