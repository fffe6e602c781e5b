package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderCreatedEvent is emitted once per successfully fulfilled payment. It is
// the only surface the notification/invoice collaborator consumes.
type OrderCreatedEvent struct {
	OrderID     string
	OrderNumber string
	UserID      string
	PaymentID   string
	Total       decimal.Decimal
	Currency    string
	OccurredAt  time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		PaymentID:   o.PaymentID,
		Total:       o.Total,
		Currency:    o.Currency,
		OccurredAt:  time.Now().UTC(),
	}
}
