package payment

import (
	"context"
	"time"

	"github.com/quickmeds/checkout/internal/application"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/observability"
	"github.com/quickmeds/checkout/internal/observability/logctx"
)

// Service covers the smaller payment operations around the verify flow:
// cancellation and reads.
type Service struct {
	payments     dompayment.Repository
	abandonAfter time.Duration
	log          observability.Logger
	now          func() time.Time
}

func NewService(payments dompayment.Repository, abandonAfter time.Duration, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Service{
		payments:     payments,
		abandonAfter: abandonAfter,
		log:          tel.Logger().With(observability.F("service", paymentService)),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Cancel applies a user cancellation. Allowed from any non-terminal state; the
// stock ledger is untouched because no reservation was ever taken.
func (s *Service) Cancel(ctx context.Context, paymentID string) (*dompayment.Payment, error) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("payment_id", paymentID))

	if paymentID == "" {
		return nil, application.NewValidationError("payment id is required")
	}
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := p.Cancel(); err != nil {
		return nil, err
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return nil, err
	}
	logger.Info("payment_cancelled")
	return p, nil
}

// PaymentView is the read model returned to callers.
type PaymentView struct {
	Payment   *dompayment.Payment
	Abandoned bool
}

func (s *Service) Get(ctx context.Context, paymentID string) (*PaymentView, error) {
	if paymentID == "" {
		return nil, application.NewValidationError("payment id is required")
	}
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &PaymentView{
		Payment:   p,
		Abandoned: p.Abandoned(s.now(), s.abandonAfter),
	}, nil
}
