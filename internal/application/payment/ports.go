package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quickmeds/checkout/internal/domain/cart"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
)

type IDGenerator interface {
	NewID() string
}

// Intent is the reference returned when a gateway opens a remote order for
// the snapshot total.
type Intent struct {
	RemoteOrderID    string
	AmountMinorUnits int64
	Currency         string
}

// Proof is the completion evidence supplied by the caller. Only the gateway
// method carries external proof; COD and wallet completions derive theirs
// from payment state.
type Proof struct {
	RemoteOrderID   string
	RemotePaymentID string
	Signature       string
}

// VerificationResult reports the adapter's decision. OK=false is a definitive
// decline and drives the payment to failed; rejections that must not consume
// the payment (bad signature, expired OTP, short balance) are returned as
// errors instead and leave the state untouched.
type VerificationResult struct {
	OK            bool
	Reason        string
	TransactionID string
}

// Gateway is the capability every payment method adapter exposes.
type Gateway interface {
	CreateIntent(ctx context.Context, snapshot cart.Snapshot) (*Intent, error)
	VerifyCompletion(ctx context.Context, p *dompayment.Payment, proof Proof) (VerificationResult, error)
}

// OTPVerification is the outcome of the wallet's second step.
type OTPVerification struct {
	Verified         bool
	AvailableBalance decimal.Decimal
	CanProceed       bool
}

// WalletGateway adds the wallet's two pre-completion steps on top of the
// common capability.
type WalletGateway interface {
	Gateway
	RegisterMobile(ctx context.Context, p *dompayment.Payment, mobile string) error
	VerifyOTP(ctx context.Context, p *dompayment.Payment, otp string) (OTPVerification, error)
}

// Gateways bundles the method adapters for dispatch by method kind.
type Gateways struct {
	Card   Gateway
	COD    Gateway
	Wallet WalletGateway
}

func (g Gateways) ByKind(kind dompayment.MethodKind) (Gateway, error) {
	switch kind {
	case dompayment.MethodGateway:
		if g.Card != nil {
			return g.Card, nil
		}
	case dompayment.MethodCOD:
		if g.COD != nil {
			return g.COD, nil
		}
	case dompayment.MethodWallet:
		if g.Wallet != nil {
			return g.Wallet, nil
		}
	}
	return nil, dompayment.ErrMethodMismatch
}
