package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickmeds/checkout/internal/application"
	"github.com/quickmeds/checkout/internal/config"
	"github.com/quickmeds/checkout/internal/domain/cart"
	"github.com/quickmeds/checkout/internal/domain/coupon"
	"github.com/quickmeds/checkout/internal/domain/stock"
)

// Snapshotter turns a live cart into an immutable priced snapshot. The stock
// check here is advisory only: it rejects obviously oversold lines but
// reserves nothing, the hard compare-and-set decrement happens at fulfillment
// commit.
type Snapshotter struct {
	ledger  stock.Ledger
	coupons coupon.Store
	pricing config.Pricing
	now     func() time.Time
}

func NewSnapshotter(ledger stock.Ledger, coupons coupon.Store, pricing config.Pricing) *Snapshotter {
	return &Snapshotter{
		ledger:  ledger,
		coupons: coupons,
		pricing: pricing,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot validates and prices the cart. It has no side effects; the caller
// creates the payment record from the returned snapshot.
func (s *Snapshotter) Snapshot(ctx context.Context, c *cart.Cart) (cart.Snapshot, error) {
	var snap cart.Snapshot

	if c.Empty() {
		return snap, cart.ErrEmptyCart
	}

	items := make([]cart.SnapshotItem, 0, len(c.Items))
	subtotal := decimal.Zero
	for _, it := range c.Items {
		if it.Quantity <= 0 {
			return snap, application.NewValidationError(
				fmt.Sprintf("quantity must be greater than zero for %s", stock.Key(it.ProductID, it.VariantID)))
		}
		if it.UnitPrice.IsNegative() {
			return snap, application.NewValidationError(
				fmt.Sprintf("unit price must not be negative for %s", stock.Key(it.ProductID, it.VariantID)))
		}

		if err := s.checkStock(ctx, it); err != nil {
			return snap, err
		}

		lineTotal := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		items = append(items, cart.SnapshotItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	tax := subtotal.Mul(s.pricing.TaxRate).Round(2)

	shipping := s.pricing.ShippingFlatRate
	if subtotal.GreaterThan(s.pricing.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	discount := decimal.Zero
	if c.CouponCode != "" {
		cp, err := s.coupons.Find(ctx, c.CouponCode)
		if err != nil {
			if errors.Is(err, coupon.ErrNotFound) {
				return snap, application.NewValidationError(fmt.Sprintf("unknown coupon %q", c.CouponCode))
			}
			return snap, err
		}
		discount = cp.Discount(subtotal)
	}

	return cart.Snapshot{
		Items:           items,
		Subtotal:        subtotal,
		TaxAmount:       tax,
		ShippingCharge:  shipping,
		Discount:        discount,
		Total:           subtotal.Add(tax).Add(shipping).Sub(discount),
		Currency:        s.pricing.Currency,
		ShippingAddress: c.ShippingAddress,
		BillingAddress:  c.BillingAddress,
		CapturedAt:      s.now(),
	}, nil
}

func (s *Snapshotter) checkStock(ctx context.Context, it cart.Item) error {
	entry, err := s.ledger.Get(ctx, it.ProductID, it.VariantID)
	if err != nil {
		if errors.Is(err, stock.ErrNotFound) {
			return &stock.InsufficientStockError{
				ProductID: it.ProductID,
				VariantID: it.VariantID,
				Requested: it.Quantity,
				Available: 0,
			}
		}
		return err
	}
	if entry.Available < it.Quantity {
		return &stock.InsufficientStockError{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Requested: it.Quantity,
			Available: entry.Available,
		}
	}
	return nil
}
