package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickmeds/checkout/internal/application"
	"github.com/quickmeds/checkout/internal/application/fulfillment"
	domorder "github.com/quickmeds/checkout/internal/domain/order"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/observability"
	"github.com/quickmeds/checkout/internal/observability/logctx"
	"github.com/quickmeds/checkout/internal/pkg/keymutex"
)

const (
	paymentService       = "payment-service"
	useCaseVerifyPayment = "payment.verify"
	spanPrefix           = "UC."
)

type VerifyInput struct {
	PaymentID string
	Proof     Proof
}

type VerifyResult struct {
	PaymentID     string
	Status        dompayment.Status
	OrderID       string
	OrderNumber   string
	OrderStatus   domorder.Status
	TransactionID string
	Reason        string
	// Replayed marks an idempotent no-op: the payment was already successful
	// and the original outcome is returned unchanged.
	Replayed bool
}

// VerifyPaymentUseCase drives a payment through verification for any method
// and triggers fulfillment when the successful state commits. Repeating it
// with an already-verified proof replays the original outcome without side
// effects, which is what absorbs duplicate webhook deliveries.
type VerifyPaymentUseCase struct {
	payments dompayment.Repository
	orders   domorder.Repository
	gateways Gateways
	engine   *fulfillment.Engine

	// locks serializes the load-verify-commit section per payment within this
	// process. Without it, concurrent duplicate callbacks each load their own
	// copy of the payment before either commits, and a fund-moving adapter
	// (the wallet debit) runs once per caller.
	locks *keymutex.KeyMutex

	tel        observability.Observability
	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
}

func NewVerifyPaymentUseCase(
	payments dompayment.Repository,
	orders domorder.Repository,
	gateways Gateways,
	engine *fulfillment.Engine,
	tel observability.Observability,
) *VerifyPaymentUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &VerifyPaymentUseCase{
		payments:   payments,
		orders:     orders,
		gateways:   gateways,
		engine:     engine,
		locks:      keymutex.New(),
		tel:        tel,
		log:        tel.Logger().With(observability.F("service", paymentService)),
		reqCounter: tel.Metrics().Counter(observability.MUsecaseRequests),
		durHist:    tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

// Execute performs the verification flow.
func (uc *VerifyPaymentUseCase) Execute(ctx context.Context, cmd VerifyInput) (_ *VerifyResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseVerifyPayment),
		observability.F("payment_id", cmd.PaymentID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"VerifyPayment",
		attribute.String("use_case", useCaseVerifyPayment),
		attribute.String("payment.id", cmd.PaymentID),
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
			observability.L("use_case", useCaseVerifyPayment),
			observability.L("outcome", outcome),
		)
		uc.durHist.Observe(lat,
			observability.L("use_case", useCaseVerifyPayment),
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

	if cmd.PaymentID == "" {
		outcome, statusText = "error", "PAYMENT_ID_REQUIRED"
		return nil, application.NewValidationError("payment id is required")
	}

	unlock := uc.locks.Lock(cmd.PaymentID)
	defer unlock()

	p, err := uc.payments.Get(ctx, cmd.PaymentID)
	if err != nil {
		outcome, statusText = "error", "PAYMENT_LOOKUP_FAILED"
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.method", string(p.Method.Kind())))

	if p.Status == dompayment.StatusSuccessful {
		statusText = "IDEMPOTENT_REPLAY"
		span.AddEvent("payment.idempotent_replay")
		return uc.replay(ctx, p)
	}
	if p.Status.Terminal() {
		outcome, statusText = "error", "PAYMENT_TERMINAL"
		return nil, fmt.Errorf("%w: payment is %s", dompayment.ErrStateConflict, p.Status)
	}

	gw, err := uc.gateways.ByKind(p.Method.Kind())
	if err != nil {
		outcome, statusText = "error", "GATEWAY_UNAVAILABLE"
		return nil, err
	}

	if p.Status == dompayment.StatusCreated {
		if err := p.BeginVerification(); err != nil {
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, err
		}
	}

	res, err := gw.VerifyCompletion(ctx, p, cmd.Proof)
	if err != nil {
		// Rejections (bad signature, expired OTP, short balance) leave the
		// payment non-terminal so a corrected attempt can follow.
		outcome, statusText = "error", "VERIFICATION_REJECTED"
		if uerr := uc.payments.Update(ctx, p); uerr != nil {
			logger.Error("payment_update_failed", observability.F("error", uerr))
		}
		return nil, err
	}

	if !res.OK {
		if terr := p.MarkFailed(res.Reason); terr != nil {
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, terr
		}
		if uerr := uc.payments.Update(ctx, p); uerr != nil {
			outcome, statusText = "error", "PAYMENT_UPDATE_FAILED"
			return nil, uerr
		}
		statusText = "DECLINED"
		logger.Info("payment_declined", observability.F("reason", res.Reason))
		return &VerifyResult{
			PaymentID: p.ID,
			Status:    p.Status,
			Reason:    res.Reason,
		}, nil
	}

	if terr := p.MarkSuccessful(); terr != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, terr
	}
	if uerr := uc.payments.Update(ctx, p); uerr != nil {
		outcome, statusText = "error", "PAYMENT_UPDATE_FAILED"
		return nil, uerr
	}

	ord, err := uc.engine.Fulfill(ctx, p)
	if err != nil {
		outcome, statusText = "error", "FULFILLMENT_FAILED"
		return nil, err
	}

	span.SetAttributes(
		attribute.String("payment.status", string(p.Status)),
		attribute.String("order.id", ord.ID),
	)
	return &VerifyResult{
		PaymentID:     p.ID,
		Status:        p.Status,
		OrderID:       ord.ID,
		OrderNumber:   ord.Number,
		OrderStatus:   ord.Status,
		TransactionID: res.TransactionID,
	}, nil
}

func (uc *VerifyPaymentUseCase) replay(ctx context.Context, p *dompayment.Payment) (*VerifyResult, error) {
	result := &VerifyResult{
		PaymentID: p.ID,
		Status:    p.Status,
		Replayed:  true,
	}
	if w, ok := p.Wallet(); ok {
		result.TransactionID = w.TransactionID
	}
	ord, err := uc.orders.FindByPaymentID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, domorder.ErrNotFound) {
			return result, nil
		}
		return nil, err
	}
	result.OrderID = ord.ID
	result.OrderNumber = ord.Number
	result.OrderStatus = ord.Status
	return result, nil
}
