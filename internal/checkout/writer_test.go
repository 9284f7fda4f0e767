package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palengke/marketplace/internal/cart"
	"github.com/palengke/marketplace/internal/entity"
	"github.com/palengke/marketplace/internal/inventory"
	"github.com/palengke/marketplace/internal/orders"
	"github.com/palengke/marketplace/internal/store/memory"
)

type fixture struct {
	writer *Writer
	ledger *inventory.Ledger
	cart   *cart.Service
	repo   *orders.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	ledger := inventory.NewLedger(s)
	cartSvc := cart.NewService(s)
	repo := orders.NewRepository(s)

	ctx := context.Background()
	require.NoError(t, ledger.SaveProduct(ctx, entity.Product{
		ID: "p1", SellerID: "seller-a", Name: "Tomatoes", Price: 10, Unit: "kg", Stock: 10,
	}))
	require.NoError(t, ledger.SaveProduct(ctx, entity.Product{
		ID: "p2", SellerID: "seller-b", Name: "Onions", Price: 20, Unit: "kg", Stock: 10,
	}))

	return &fixture{
		writer: NewWriter(repo, ledger, cartSvc, 80),
		ledger: ledger,
		cart:   cartSvc,
		repo:   repo,
	}
}

func (f *fixture) lines() []entity.CartLine {
	return []entity.CartLine{
		{ProductID: "p1", SellerID: "seller-a", Name: "Tomatoes", Price: 10, Quantity: 2, Selected: true},
		{ProductID: "p2", SellerID: "seller-b", Name: "Onions", Price: 20, Quantity: 1, Selected: true},
	}
}

func TestPlaceOrderFansOutPerSeller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	txID, err := f.writer.PlaceOrder(ctx, PlaceOrderInput{
		BuyerID: "buyer-1",
		Lines:   f.lines(),
		Customer: entity.CustomerInfo{
			Name: "Maria", Phone: "0917", Address: "Quezon City",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	// Buyer record: all items, order-level totals with the shipping fee.
	buyerAgg, err := f.repo.BuyerAggregate(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, buyerAgg.Orders, 1)
	rec := buyerAgg.Orders[0]
	assert.Equal(t, txID, rec.TransactionID)
	assert.Equal(t, entity.StatusToPay, rec.Status)
	assert.Len(t, rec.Items, 2)
	assert.Equal(t, 40.0, rec.Subtotal)
	assert.Equal(t, 80.0, rec.ShippingFee)
	assert.Equal(t, 120.0, rec.Total)
	assert.Equal(t, "Maria", rec.CustomerInfo.Name)

	// One record per seller, subset items, no shipping fee in the total.
	for _, tc := range []struct {
		sellerID string
		product  string
		subtotal float64
	}{
		{"seller-a", "p1", 20},
		{"seller-b", "p2", 20},
	} {
		agg, err := f.repo.SellerAggregate(ctx, tc.sellerID)
		require.NoError(t, err)
		require.Len(t, agg.Orders, 1, tc.sellerID)
		srec := agg.Orders[0]
		assert.Equal(t, txID, srec.TransactionID)
		assert.Equal(t, "buyer-1", srec.BuyerID)
		assert.Equal(t, entity.SellerStatusUpcoming, srec.Status)
		require.Len(t, srec.Items, 1)
		assert.Equal(t, tc.product, srec.Items[0].ProductID)
		assert.Equal(t, tc.subtotal, srec.Subtotal)
		assert.Equal(t, tc.subtotal, srec.Total, "sellers do not collect the shipping fee")
	}

	// Stock reserved for every line.
	p1, err := f.ledger.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, p1.Stock)
	p2, err := f.ledger.Product(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 9, p2.Stock)
}

func TestPlaceOrderClearsOrderedCartLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, l := range f.lines() {
		require.NoError(t, f.cart.AddOrMerge(ctx, "buyer-1", l))
	}
	require.NoError(t, f.cart.AddOrMerge(ctx, "buyer-1", entity.CartLine{
		ProductID: "p3", SellerID: "seller-a", Name: "Garlic", Price: 5, Quantity: 1, Selected: false,
	}))

	selected, err := f.cart.SelectedLines(ctx, "buyer-1")
	require.NoError(t, err)

	_, err = f.writer.PlaceOrder(ctx, PlaceOrderInput{BuyerID: "buyer-1", Lines: selected})
	require.NoError(t, err)

	agg, err := f.cart.Get(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, agg.Lines, 1, "unselected lines stay in the cart")
	assert.Equal(t, "p3", agg.Lines[0].ProductID)
}

func TestPlaceOrderInsufficientStockRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	lines := f.lines()
	lines[1].Quantity = 11 // more onions than seller-b has

	_, err := f.writer.PlaceOrder(ctx, PlaceOrderInput{BuyerID: "buyer-1", Lines: lines})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// The tomato reservation made before the failure is rolled back.
	p1, err := f.ledger.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Stock)
	p2, err := f.ledger.Product(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 10, p2.Stock)

	// No record was written on either side.
	buyerAgg, err := f.repo.BuyerAggregate(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, buyerAgg.Orders)
	sellerAgg, err := f.repo.SellerAggregate(ctx, "seller-a")
	require.NoError(t, err)
	assert.Empty(t, sellerAgg.Orders)
}

func TestPlaceOrderResumeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	in := PlaceOrderInput{
		BuyerID:       "buyer-1",
		TransactionID: "tx-fixed",
		Lines:         f.lines(),
	}

	txID, err := f.writer.PlaceOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "tx-fixed", txID)

	// Retrying the same placement resumes instead of double-writing.
	txID, err = f.writer.PlaceOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "tx-fixed", txID)

	buyerAgg, err := f.repo.BuyerAggregate(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, buyerAgg.Orders, 1)

	p1, err := f.ledger.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, p1.Stock, "resume must not reserve again")
}

func TestPlaceOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.writer.PlaceOrder(ctx, PlaceOrderInput{BuyerID: "buyer-1"})
	require.ErrorIs(t, err, ErrEmptyOrder)

	_, err = f.writer.PlaceOrder(ctx, PlaceOrderInput{Lines: f.lines()})
	require.Error(t, err)

	bad := f.lines()
	bad[0].Quantity = 0
	_, err = f.writer.PlaceOrder(ctx, PlaceOrderInput{BuyerID: "buyer-1", Lines: bad})
	require.Error(t, err)
}

func TestConcurrentPlacementsForOneBuyer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.writer.PlaceOrder(ctx, PlaceOrderInput{
				BuyerID:       "buyer-1",
				TransactionID: fmt.Sprintf("tx-%d", i),
				Lines: []entity.CartLine{
					{ProductID: "p1", SellerID: "seller-a", Name: "Tomatoes", Price: 10, Quantity: 1, Selected: true},
				},
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "placement %d", i)
	}

	buyerAgg, err := f.repo.BuyerAggregate(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, buyerAgg.Orders, n, "every placement keeps its own record")
	for i := 0; i < n; i++ {
		assert.NotNil(t, buyerAgg.Find(fmt.Sprintf("tx-%d", i)))
	}

	sellerAgg, err := f.repo.SellerAggregate(ctx, "seller-a")
	require.NoError(t, err)
	assert.Len(t, sellerAgg.Orders, n)

	p1, err := f.ledger.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p1.Stock)
}
