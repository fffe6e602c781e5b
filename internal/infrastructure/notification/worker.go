// Package notification consumes order events and sends the customer-facing
// confirmations. Delivery here is a structured log line standing in for an
// email/SMS provider.
package notification

import (
	"context"

	domorder "github.com/quickmeds/checkout/internal/domain/order"
	domoutbox "github.com/quickmeds/checkout/internal/domain/outbox"
	"github.com/quickmeds/checkout/internal/observability"
	"github.com/quickmeds/checkout/internal/observability/logctx"
)

type Worker struct {
	subscriber domoutbox.Subscriber
	log        observability.Logger
}

func NewWorker(subscriber domoutbox.Subscriber, logger observability.Logger) *Worker {
	return &Worker{
		subscriber: subscriber,
		log:        logger.With(observability.F("component", "notification_worker")),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(domorder.OrderCreatedEvent{}.EventName(), w.handleOrderCreated)
}

func (w *Worker) handleOrderCreated(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderCreatedEvent)
	if !ok {
		return nil
	}

	logctx.FromOr(ctx, w.log).Info("order_confirmation_sent",
		observability.F("order_id", evt.OrderID),
		observability.F("order_number", evt.OrderNumber),
		observability.F("user_id", evt.UserID),
		observability.F("payment_id", evt.PaymentID),
		observability.F("total", evt.Total.StringFixed(2)),
		observability.F("currency", evt.Currency),
	)
	return nil
}
