package gateway

import (
	"context"

	apppayment "github.com/quickmeds/checkout/internal/application/payment"
	"github.com/quickmeds/checkout/internal/domain/cart"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
)

// COD is the cash-on-delivery adapter. There is no remote intent and no
// external proof; completion is the explicit confirmation action, valid while
// the payment is still non-terminal (the use case enforces that).
type COD struct{}

func NewCOD() *COD { return &COD{} }

func (*COD) CreateIntent(context.Context, cart.Snapshot) (*apppayment.Intent, error) {
	return nil, nil
}

func (*COD) VerifyCompletion(_ context.Context, p *dompayment.Payment, _ apppayment.Proof) (apppayment.VerificationResult, error) {
	if p.Method.Kind() != dompayment.MethodCOD {
		return apppayment.VerificationResult{}, dompayment.ErrMethodMismatch
	}
	return apppayment.VerificationResult{OK: true}, nil
}
