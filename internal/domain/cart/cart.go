package cart

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("cart: not found")
	ErrEmptyCart = errors.New("cart: cart is empty")
)

// Address is copied verbatim into snapshots and orders.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Item struct {
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Cart is the live, mutable cart owned by a user. This core only reads it and
// clears it after a successful order.
type Cart struct {
	UserID          string
	Items           []Item
	CouponCode      string
	ShippingAddress Address
	BillingAddress  Address
	UpdatedAt       time.Time
}

func (c *Cart) Empty() bool { return c == nil || len(c.Items) == 0 }

type Repository interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, userID string) error
}
