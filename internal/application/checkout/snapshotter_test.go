package checkout

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickmeds/checkout/internal/application"
	"github.com/quickmeds/checkout/internal/config"
	"github.com/quickmeds/checkout/internal/domain/cart"
	"github.com/quickmeds/checkout/internal/domain/coupon"
	"github.com/quickmeds/checkout/internal/domain/stock"
	"github.com/quickmeds/checkout/internal/infrastructure/memory"
)

func testPricing() config.Pricing {
	return config.Pricing{
		Currency:              "INR",
		TaxRate:               decimal.RequireFromString("0.18"),
		ShippingFlatRate:      decimal.RequireFromString("50.00"),
		FreeShippingThreshold: decimal.RequireFromString("1000.00"),
	}
}

func testLedger(entries ...[3]any) *memory.StockLedger {
	l := memory.NewStockLedger()
	for _, e := range entries {
		l.Seed(e[0].(string), e[1].(string), e[2].(int))
	}
	return l
}

func testCart(items ...cart.Item) *cart.Cart {
	return &cart.Cart{
		UserID: "user-1",
		Items:  items,
	}
}

func TestSnapshotPricing(t *testing.T) {
	ledger := testLedger([3]any{"med-1", "strip-10", 10}, [3]any{"med-2", "bottle", 5})
	s := NewSnapshotter(ledger, memory.NewCouponStore(), testPricing())

	c := testCart(
		cart.Item{ProductID: "med-1", VariantID: "strip-10", Quantity: 2, UnitPrice: decimal.RequireFromString("120.00")},
		cart.Item{ProductID: "med-2", VariantID: "bottle", Quantity: 1, UnitPrice: decimal.RequireFromString("230.00")},
	)

	snap, err := s.Snapshot(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, "470.00", snap.Subtotal.StringFixed(2))
	assert.Equal(t, "84.60", snap.TaxAmount.StringFixed(2))
	assert.Equal(t, "50.00", snap.ShippingCharge.StringFixed(2))
	assert.Equal(t, "0.00", snap.Discount.StringFixed(2))
	assert.Equal(t, "604.60", snap.Total.StringFixed(2))
	assert.Equal(t, "INR", snap.Currency)
	assert.Equal(t, int64(60460), snap.TotalMinorUnits())
	assert.Len(t, snap.Items, 2)
}

func TestSnapshotFreeShippingAboveThreshold(t *testing.T) {
	ledger := testLedger([3]any{"med-1", "strip-10", 100})
	s := NewSnapshotter(ledger, memory.NewCouponStore(), testPricing())

	c := testCart(
		cart.Item{ProductID: "med-1", VariantID: "strip-10", Quantity: 10, UnitPrice: decimal.RequireFromString("120.00")},
	)

	snap, err := s.Snapshot(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, "1200.00", snap.Subtotal.StringFixed(2))
	assert.Equal(t, "0.00", snap.ShippingCharge.StringFixed(2))
}

func TestSnapshotEmptyCart(t *testing.T) {
	s := NewSnapshotter(testLedger(), memory.NewCouponStore(), testPricing())

	_, err := s.Snapshot(context.Background(), testCart())
	assert.ErrorIs(t, err, cart.ErrEmptyCart)

	_, err = s.Snapshot(context.Background(), &cart.Cart{UserID: "user-1"})
	assert.ErrorIs(t, err, cart.ErrEmptyCart)
}

func TestSnapshotRejectsInvalidLines(t *testing.T) {
	ledger := testLedger([3]any{"med-1", "strip-10", 10})
	s := NewSnapshotter(ledger, memory.NewCouponStore(), testPricing())

	_, err := s.Snapshot(context.Background(), testCart(
		cart.Item{ProductID: "med-1", VariantID: "strip-10", Quantity: 0, UnitPrice: decimal.RequireFromString("120.00")},
	))
	assert.ErrorIs(t, err, application.ErrValidation)

	_, err = s.Snapshot(context.Background(), testCart(
		cart.Item{ProductID: "med-1", VariantID: "strip-10", Quantity: 1, UnitPrice: decimal.RequireFromString("-1.00")},
	))
	assert.ErrorIs(t, err, application.ErrValidation)
}

func TestSnapshotInsufficientStock(t *testing.T) {
	ledger := testLedger([3]any{"med-1", "strip-10", 1})
	s := NewSnapshotter(ledger, memory.NewCouponStore(), testPricing())

	_, err := s.Snapshot(context.Background(), testCart(
		cart.Item{ProductID: "med-1", VariantID: "strip-10", Quantity: 3, UnitPrice: decimal.RequireFromString("120.00")},
	))

	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "med-1", insufficient.ProductID)
	assert.Equal(t, 3, insufficient.Requested)
	assert.Equal(t, 1, insufficient.Available)
}

func TestSnapshotUnknownItemReportsZeroAvailability(t *testing.T) {
	s := NewSnapshotter(testLedger(), memory.NewCouponStore(), testPricing())

	_, err := s.Snapshot(context.Background(), testCart(
		cart.Item{ProductID: "ghost", VariantID: "v1", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
	))

	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Available)
}

func TestSnapshotCoupons(t *testing.T) {
	ledger := testLedger([3]any{"med-1", "strip-10", 100})
	coupons := memory.NewCouponStore()
	coupons.Seed(coupon.Coupon{
		Code:        "WELCOME10",
		Kind:        coupon.KindPercent,
		Value:       decimal.RequireFromString("10"),
		MinSubtotal: decimal.RequireFromString("500.00"),
	})
	s := NewSnapshotter(ledger, coupons, testPricing())

	c := testCart(
		cart.Item{ProductID: "med-1", VariantID: "strip-10", Quantity: 5, UnitPrice: decimal.RequireFromString("120.00")},
	)
	c.CouponCode = "WELCOME10"

	snap, err := s.Snapshot(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "60.00", snap.Discount.StringFixed(2))

	// subtotal 600 + tax 108 + shipping 50 - discount 60
	assert.Equal(t, "698.00", snap.Total.StringFixed(2))

	c.CouponCode = "NOPE"
	_, err = s.Snapshot(context.Background(), c)
	assert.ErrorIs(t, err, application.ErrValidation)
}

func TestSnapshotCouponBelowMinimumYieldsNoDiscount(t *testing.T) {
	ledger := testLedger([3]any{"med-1", "strip-10", 100})
	coupons := memory.NewCouponStore()
	coupons.Seed(coupon.Coupon{
		Code:        "BIG",
		Kind:        coupon.KindFlat,
		Value:       decimal.RequireFromString("50.00"),
		MinSubtotal: decimal.RequireFromString("500.00"),
	})
	s := NewSnapshotter(ledger, coupons, testPricing())

	c := testCart(
		cart.Item{ProductID: "med-1", VariantID: "strip-10", Quantity: 1, UnitPrice: decimal.RequireFromString("120.00")},
	)
	c.CouponCode = "BIG"

	snap, err := s.Snapshot(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, snap.Discount.IsZero())
}

func TestSnapshotHasNoSideEffects(t *testing.T) {
	ledger := testLedger([3]any{"med-1", "strip-10", 10})
	s := NewSnapshotter(ledger, memory.NewCouponStore(), testPricing())

	c := testCart(
		cart.Item{ProductID: "med-1", VariantID: "strip-10", Quantity: 2, UnitPrice: decimal.RequireFromString("120.00")},
	)
	_, err := s.Snapshot(context.Background(), c)
	require.NoError(t, err)

	entry, err := ledger.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 10, entry.Available, "advisory check must not reserve stock")
	assert.Equal(t, int64(1), entry.Version)
}
