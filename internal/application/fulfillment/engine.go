package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/quickmeds/checkout/internal/domain/cart"
	domorder "github.com/quickmeds/checkout/internal/domain/order"
	domoutbox "github.com/quickmeds/checkout/internal/domain/outbox"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/domain/stock"
	"github.com/quickmeds/checkout/internal/observability"
	"github.com/quickmeds/checkout/internal/observability/logctx"
	"github.com/quickmeds/checkout/internal/pkg/keymutex"
)

const (
	fulfillmentService = "fulfillment-engine"
	spanFulfill        = "UC.FulfillOrder"
	publishPeer        = "outbox"
	publishEndpoint    = "order.created"
	publishTimeout     = 300 * time.Millisecond

	reasonStockConflict     = "stock_conflict"
	reasonInsufficientStock = "insufficient_stock"
)

type IDGenerator interface {
	NewID() string
}

// NumberGenerator issues human-readable, date-based order numbers.
type NumberGenerator interface {
	NextOrderNumber() string
}

// Engine turns a payment that has committed the successful state into exactly
// one order. The claim is the order repository's per-payment uniqueness: the
// first caller to observe no order performs the creation, everyone else gets
// the already-created order back unchanged.
type Engine struct {
	payments  dompayment.Repository
	orders    domorder.Repository
	carts     cart.Repository
	ledger    stock.Ledger
	ids       IDGenerator
	numbers   NumberGenerator
	publisher domoutbox.Publisher

	maxRetries int

	tel           observability.Observability
	log           observability.Logger
	ordersCreated observability.Counter
	conflicts     observability.Counter

	locks *keymutex.KeyMutex
}

func NewEngine(
	payments dompayment.Repository,
	orders domorder.Repository,
	carts cart.Repository,
	ledger stock.Ledger,
	ids IDGenerator,
	numbers NumberGenerator,
	publisher domoutbox.Publisher,
	maxRetries int,
	tel observability.Observability,
) *Engine {
	if tel == nil {
		tel = observability.Nop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Engine{
		payments:      payments,
		orders:        orders,
		carts:         carts,
		ledger:        ledger,
		ids:           ids,
		numbers:       numbers,
		publisher:     publisher,
		maxRetries:    maxRetries,
		locks:         keymutex.New(),
		tel:           tel,
		log:           tel.Logger().With(observability.F("service", fulfillmentService)),
		ordersCreated: tel.Metrics().Counter(observability.MOrdersCreated),
		conflicts:     tel.Metrics().Counter(observability.MStockDecrementConflicts),
	}
}

// Fulfill is idempotent per payment. It must only be called once the payment
// is successful; the caller persists the payment before handing it over.
func (e *Engine) Fulfill(ctx context.Context, p *dompayment.Payment) (_ *domorder.Order, err error) {
	if p == nil {
		return nil, errors.New("fulfillment: payment is required")
	}
	if p.Status != dompayment.StatusSuccessful {
		return nil, dompayment.ErrStateConflict
	}

	logger := logctx.FromOr(ctx, e.log).With(observability.F("payment_id", p.ID))

	ctx, span := e.tel.Tracer().Start(ctx, spanFulfill,
		attribute.String("payment.id", p.ID),
		attribute.String("payment.method", string(p.Method.Kind())),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()
	}()

	// Serialize commits per payment within this process; the repository's
	// insert conflict guards the cross-instance case.
	unlock := e.locks.Lock(p.ID)
	defer unlock()

	existing, err := e.orders.FindByPaymentID(ctx, p.ID)
	switch {
	case err == nil:
		span.AddEvent("order.idempotent_replay")
		logger.Info("fulfillment_replayed", observability.F("order_id", existing.ID))
		return existing, nil
	case errors.Is(err, domorder.ErrNotFound):
		// first observer, perform the creation
	default:
		return nil, fmt.Errorf("fulfillment: order lookup: %w", err)
	}

	applied, failLine, decErr := e.decrementAll(ctx, p.Snapshot.Items)
	if decErr != nil {
		e.restore(ctx, applied)
		return e.flagCreationFailed(ctx, p, failLine, decErr)
	}

	ord := domorder.FromSnapshot(e.ids.NewID(), e.numbers.NextOrderNumber(), p.UserID, p.ID, p.Snapshot)
	if err := e.orders.Insert(ctx, ord); err != nil {
		if errors.Is(err, domorder.ErrConflict) {
			// lost the claim to another instance; hand stock back and return
			// what it created
			e.restore(ctx, applied)
			return e.orders.FindByPaymentID(ctx, p.ID)
		}
		e.restore(ctx, applied)
		return nil, fmt.Errorf("fulfillment: order insert: %w", err)
	}

	if err := p.LinkOrder(ord.ID); err != nil {
		logger.Error("order_link_failed", observability.F("order_id", ord.ID), observability.F("error", err))
	} else if err := e.payments.Update(ctx, p); err != nil {
		logger.Error("payment_update_failed", observability.F("order_id", ord.ID), observability.F("error", err))
	}

	if err := e.carts.Clear(ctx, p.UserID); err != nil && !errors.Is(err, cart.ErrNotFound) {
		logger.Warn("cart_clear_failed", observability.F("user_id", p.UserID), observability.F("error", err))
	}

	e.publish(ctx, logger, ord)

	e.ordersCreated.Add(1, observability.L("outcome", "created"))
	span.AddEvent("order.created")
	span.SetAttributes(attribute.String("order.id", ord.ID), attribute.String("order.number", ord.Number))
	logger.Info("order_created",
		observability.F("order_id", ord.ID),
		observability.F("order_number", ord.Number),
		observability.F("total", ord.Total.StringFixed(2)),
	)
	return ord, nil
}

type appliedLine struct {
	productID string
	variantID string
	quantity  int
}

// decrementAll applies a compare-and-set decrement per line, retrying each
// line a bounded number of times. It returns the lines already applied so the
// caller can hand stock back on abort.
func (e *Engine) decrementAll(ctx context.Context, items []cart.SnapshotItem) ([]appliedLine, *cart.SnapshotItem, error) {
	applied := make([]appliedLine, 0, len(items))
	for i := range items {
		it := items[i]
		if err := e.decrementLine(ctx, it); err != nil {
			return applied, &it, err
		}
		applied = append(applied, appliedLine{productID: it.ProductID, variantID: it.VariantID, quantity: it.Quantity})
	}
	return applied, nil, nil
}

func (e *Engine) decrementLine(ctx context.Context, it cart.SnapshotItem) error {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		entry, err := e.ledger.Get(ctx, it.ProductID, it.VariantID)
		if err != nil {
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
		_, err = e.ledger.Decrement(ctx, it.ProductID, it.VariantID, it.Quantity, entry.Version)
		if err == nil {
			return nil
		}
		if errors.Is(err, stock.ErrVersionConflict) {
			e.conflicts.Add(1, observability.L("item", stock.Key(it.ProductID, it.VariantID)))
			continue
		}
		return err
	}
	return fmt.Errorf("fulfillment: %s: %w", stock.Key(it.ProductID, it.VariantID), stock.ErrVersionConflict)
}

func (e *Engine) restore(ctx context.Context, applied []appliedLine) {
	logger := logctx.FromOr(ctx, e.log)
	for _, line := range applied {
		if err := e.ledger.Restore(ctx, line.productID, line.variantID, line.quantity); err != nil {
			logger.Error("stock_restore_failed",
				observability.F("item", stock.Key(line.productID, line.variantID)),
				observability.F("quantity", line.quantity),
				observability.F("error", err),
			)
		}
	}
}

// flagCreationFailed records the unresolved order for manual reconciliation.
// The payment stays successful: the money has moved and this core performs no
// automated refunds.
func (e *Engine) flagCreationFailed(ctx context.Context, p *dompayment.Payment, line *cart.SnapshotItem, cause error) (*domorder.Order, error) {
	logger := logctx.FromOr(ctx, e.log).With(observability.F("payment_id", p.ID))

	reason := reasonStockConflict
	if iserr := new(stock.InsufficientStockError); errors.As(cause, &iserr) {
		reason = reasonInsufficientStock
	}

	ord := domorder.FromSnapshot(e.ids.NewID(), e.numbers.NextOrderNumber(), p.UserID, p.ID, p.Snapshot)
	ord.MarkCreationFailed(cause.Error())
	if err := e.orders.Insert(ctx, ord); err != nil {
		if errors.Is(err, domorder.ErrConflict) {
			return e.orders.FindByPaymentID(ctx, p.ID)
		}
		return nil, fmt.Errorf("fulfillment: flag creation failed: %w", err)
	}

	e.ordersCreated.Add(1, observability.L("outcome", "creation_failed"))
	fields := []observability.Field{
		observability.F("order_id", ord.ID),
		observability.F("reason", reason),
		observability.F("error", cause.Error()),
	}
	if line != nil {
		fields = append(fields, observability.F("item", stock.Key(line.ProductID, line.VariantID)))
	}
	logger.Error("order_creation_failed", fields...)
	return ord, nil
}

func (e *Engine) publish(ctx context.Context, logger observability.Logger, ord *domorder.Order) {
	if e.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, domorder.NewOrderCreatedEvent(ord)); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", publishEndpoint),
			observability.F("peer", publishPeer),
			observability.F("error", err),
		)
	}
}
