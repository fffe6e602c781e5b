package checkout

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickmeds/checkout/internal/application"
	apppayment "github.com/quickmeds/checkout/internal/application/payment"
	"github.com/quickmeds/checkout/internal/domain/cart"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/observability"
	"github.com/quickmeds/checkout/internal/observability/logctx"
)

const (
	checkoutService = "checkout-service"
	useCaseInitiate = "checkout.initiate"
	spanPrefix      = "UC."
)

type IDGenerator interface {
	NewID() string
}

type InitiateInput struct {
	UserID string
	Method dompayment.MethodKind
}

type InitiateResult struct {
	PaymentID string
	Status    dompayment.Status
	Snapshot  cart.Snapshot
	// Intent is only present for the remote gateway method.
	Intent *apppayment.Intent
}

// InitiateUseCase captures the cart snapshot and creates the payment record
// that owns it. For the gateway method it also opens the remote order so the
// caller can hand the intent to the client.
type InitiateUseCase struct {
	carts       cart.Repository
	payments    dompayment.Repository
	snapshotter *Snapshotter
	gateways    apppayment.Gateways
	ids         IDGenerator

	tel        observability.Observability
	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
}

func NewInitiateUseCase(
	carts cart.Repository,
	payments dompayment.Repository,
	snapshotter *Snapshotter,
	gateways apppayment.Gateways,
	ids IDGenerator,
	tel observability.Observability,
) *InitiateUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &InitiateUseCase{
		carts:       carts,
		payments:    payments,
		snapshotter: snapshotter,
		gateways:    gateways,
		ids:         ids,
		tel:         tel,
		log:         tel.Logger().With(observability.F("service", checkoutService)),
		reqCounter:  tel.Metrics().Counter(observability.MUsecaseRequests),
		durHist:     tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

// Execute performs the checkout initiation flow.
func (uc *InitiateUseCase) Execute(ctx context.Context, cmd InitiateInput) (_ *InitiateResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseInitiate),
		observability.F("user_id", cmd.UserID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"InitiateCheckout",
		attribute.String("use_case", useCaseInitiate),
		attribute.String("checkout.user_id", cmd.UserID),
		attribute.String("checkout.method", string(cmd.Method)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseInitiate),
			observability.L("outcome", outcome),
		)
		uc.durHist.Observe(lat,
			observability.L("use_case", useCaseInitiate),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if cmd.UserID == "" {
		outcome, statusText = "error", "USER_ID_REQUIRED"
		return nil, application.NewValidationError("user id is required")
	}
	if !cmd.Method.Valid() {
		outcome, statusText = "error", "METHOD_INVALID"
		return nil, application.NewValidationError("unknown payment method")
	}

	c, err := uc.carts.Get(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			outcome, statusText = "error", "CART_EMPTY"
			return nil, cart.ErrEmptyCart
		}
		outcome, statusText = "error", "CART_LOOKUP_FAILED"
		return nil, err
	}

	snap, err := uc.snapshotter.Snapshot(ctx, c)
	if err != nil {
		outcome, statusText = "error", "SNAPSHOT_REJECTED"
		return nil, err
	}

	method := dompayment.NewMethod(cmd.Method)
	p, err := dompayment.New(uc.ids.NewID(), cmd.UserID, method, snap)
	if err != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, err
	}

	var intent *apppayment.Intent
	if cmd.Method == dompayment.MethodGateway {
		gw, gerr := uc.gateways.ByKind(cmd.Method)
		if gerr != nil {
			outcome, statusText = "error", "GATEWAY_UNAVAILABLE"
			return nil, gerr
		}
		intent, err = gw.CreateIntent(ctx, snap)
		if err != nil {
			outcome, statusText = "error", "INTENT_CREATION_FAILED"
			return nil, err
		}
		if m, ok := p.Gateway(); ok {
			m.RemoteOrderID = intent.RemoteOrderID
		}
		if err := p.BeginVerification(); err != nil {
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, err
		}
	}

	if err := uc.payments.Insert(ctx, p); err != nil {
		outcome, statusText = "error", "PAYMENT_INSERT_FAILED"
		return nil, err
	}

	span.SetAttributes(
		attribute.String("payment.id", p.ID),
		attribute.String("checkout.total", snap.Total.StringFixed(2)),
	)
	span.AddEvent("payment.created")

	return &InitiateResult{
		PaymentID: p.ID,
		Status:    p.Status,
		Snapshot:  snap,
		Intent:    intent,
	}, nil
}
