package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

type SnapshotItem struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Snapshot is the priced copy of cart contents captured when a payment is
// created. It is immutable afterwards: orders copy their line items and totals
// from it, never from the live catalog.
type Snapshot struct {
	Items           []SnapshotItem  `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	ShippingCharge  decimal.Decimal `json:"shipping_charge"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	CapturedAt      time.Time       `json:"captured_at"`
}

// TotalMinorUnits converts the total into the smallest currency unit, the
// amount representation remote gateways expect.
func (s Snapshot) TotalMinorUnits() int64 {
	return s.Total.Shift(2).IntPart()
}
