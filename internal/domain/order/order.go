package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickmeds/checkout/internal/domain/cart"
)

var (
	ErrNotFound = errors.New("order: not found")
	ErrConflict = errors.New("order: conflict")
)

type Status string

const (
	StatusCreated Status = "created"
	// StatusCreationFailed marks an order whose stock commit lost a race after
	// the payment already succeeded. It is left for manual reconciliation.
	StatusCreationFailed Status = "creation_failed"
)

type LineItem struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Order is created once by the fulfillment engine. Items and totals are a
// verbatim copy of the payment's snapshot; later catalog changes never touch
// a placed order.
type Order struct {
	ID              string
	Number          string
	UserID          string
	PaymentID       string
	Status          Status
	PaymentStatus   string
	Items           []LineItem
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingCharge  decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	ShippingAddress cart.Address
	BillingAddress  cart.Address
	FailureReason   string
	CreatedAt       time.Time
}

// FromSnapshot copies the snapshot into a new order record.
func FromSnapshot(id, number, userID, paymentID string, snap cart.Snapshot) *Order {
	items := make([]LineItem, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, LineItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return &Order{
		ID:              id,
		Number:          number,
		UserID:          userID,
		PaymentID:       paymentID,
		Status:          StatusCreated,
		PaymentStatus:   "successful",
		Items:           items,
		Subtotal:        snap.Subtotal,
		TaxAmount:       snap.TaxAmount,
		ShippingCharge:  snap.ShippingCharge,
		Discount:        snap.Discount,
		Total:           snap.Total,
		Currency:        snap.Currency,
		ShippingAddress: snap.ShippingAddress,
		BillingAddress:  snap.BillingAddress,
		CreatedAt:       time.Now().UTC(),
	}
}

func (o *Order) MarkCreationFailed(reason string) {
	o.Status = StatusCreationFailed
	o.FailureReason = reason
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}

// Repository guards uniqueness on both the order id and the payment id:
// inserting a second order for the same payment returns ErrConflict, which is
// the claim that keeps duplicate callbacks from creating duplicate orders.
type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*Order, error)
}
