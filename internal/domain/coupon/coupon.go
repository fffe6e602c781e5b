package coupon

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("coupon: not found")

type Kind string

const (
	KindFlat    Kind = "flat"
	KindPercent Kind = "percent"
)

type Coupon struct {
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	MinSubtotal decimal.Decimal
}

// Discount computes the discount for a subtotal. A coupon below its minimum
// subtotal yields zero; the discount never exceeds the subtotal.
func (c Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.LessThan(c.MinSubtotal) {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch c.Kind {
	case KindPercent:
		d = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100)).Round(2)
	default:
		d = c.Value
	}
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	return d
}

type Store interface {
	Find(ctx context.Context, code string) (*Coupon, error)
}
