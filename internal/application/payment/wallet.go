package payment

import (
	"context"

	"github.com/quickmeds/checkout/internal/application"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/observability"
	"github.com/quickmeds/checkout/internal/observability/logctx"
)

// WalletService exposes the wallet flow's two pre-completion steps. The final
// pay step goes through VerifyPaymentUseCase like every other method.
type WalletService struct {
	payments dompayment.Repository
	gateway  WalletGateway
	log      observability.Logger
}

func NewWalletService(payments dompayment.Repository, gateway WalletGateway, tel observability.Observability) *WalletService {
	if tel == nil {
		tel = observability.Nop()
	}
	return &WalletService{
		payments: payments,
		gateway:  gateway,
		log:      tel.Logger().With(observability.F("service", paymentService), observability.F("component", "wallet")),
	}
}

// Register attaches a mobile number to the payment and issues an OTP,
// delivered out of band.
func (s *WalletService) Register(ctx context.Context, paymentID, mobile string) error {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("payment_id", paymentID))

	if paymentID == "" {
		return application.NewValidationError("payment id is required")
	}
	if mobile == "" {
		return application.NewValidationError("mobile number is required")
	}

	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if _, ok := p.Wallet(); !ok {
		return dompayment.ErrMethodMismatch
	}
	if p.Status.Terminal() {
		return dompayment.ErrStateConflict
	}

	if err := s.gateway.RegisterMobile(ctx, p, mobile); err != nil {
		return err
	}
	if p.Status == dompayment.StatusCreated {
		if err := p.BeginVerification(); err != nil {
			return err
		}
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return err
	}
	logger.Info("wallet_otp_issued")
	return nil
}

// VerifyOTP checks the submitted code against the stored hash and expiry. A
// structurally correct but expired code is rejected; on success the wallet is
// marked verified and its balance snapshotted.
func (s *WalletService) VerifyOTP(ctx context.Context, paymentID, otp string) (*OTPVerification, error) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("payment_id", paymentID))

	if paymentID == "" {
		return nil, application.NewValidationError("payment id is required")
	}
	if otp == "" {
		return nil, application.NewValidationError("otp is required")
	}

	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.Wallet(); !ok {
		return nil, dompayment.ErrMethodMismatch
	}
	if p.Status.Terminal() {
		return nil, dompayment.ErrStateConflict
	}

	result, err := s.gateway.VerifyOTP(ctx, p, otp)
	if err != nil {
		logger.Warn("wallet_otp_rejected", observability.F("error", err))
		return nil, err
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return nil, err
	}
	logger.Info("wallet_otp_verified",
		observability.F("can_proceed", result.CanProceed),
	)
	return &result, nil
}
