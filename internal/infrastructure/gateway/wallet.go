package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	apppayment "github.com/quickmeds/checkout/internal/application/payment"
	"github.com/quickmeds/checkout/internal/config"
	"github.com/quickmeds/checkout/internal/domain/cart"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/observability"
)

// WalletStore is the wallet provider's balance ledger.
type WalletStore interface {
	Balance(ctx context.Context, mobile string) (decimal.Decimal, error)
	Debit(ctx context.Context, mobile string, amount decimal.Decimal) error
}

type IDGenerator interface {
	NewID() string
}

// Wallet is the mobile-wallet adapter: register issues a time-boxed OTP,
// verify checks it against the stored hash and snapshots the balance, and
// completion debits the wallet once, recording a synthetic transaction id.
type Wallet struct {
	store WalletStore
	ids   IDGenerator
	ttl   time.Duration
	log   observability.Logger
	now   func() time.Time
}

func NewWallet(store WalletStore, ids IDGenerator, cfg config.Wallet, tel observability.Observability) *Wallet {
	if tel == nil {
		tel = observability.Nop()
	}
	ttl := cfg.OTPTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Wallet{
		store: store,
		ids:   ids,
		ttl:   ttl,
		log:   tel.Logger().With(observability.F("component", "wallet_gateway")),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (*Wallet) CreateIntent(context.Context, cart.Snapshot) (*apppayment.Intent, error) {
	return nil, nil
}

// RegisterMobile attaches the mobile number and issues a fresh OTP. The code
// itself never leaves this process through the API; delivery is out of band.
func (w *Wallet) RegisterMobile(ctx context.Context, p *dompayment.Payment, mobile string) error {
	m, ok := p.Wallet()
	if !ok {
		return dompayment.ErrMethodMismatch
	}

	otp, err := generateOTP()
	if err != nil {
		return fmt.Errorf("wallet: generate otp: %w", err)
	}

	m.Mobile = mobile
	m.OTPHash = hashOTP(otp)
	m.OTPExpiresAt = w.now().Add(w.ttl)
	m.Verified = false

	// stand-in for the SMS provider
	w.log.Debug("wallet_otp_generated",
		observability.F("payment_id", p.ID),
		observability.F("otp", otp),
	)
	return nil
}

// VerifyOTP rejects expired codes before comparing, so a structurally correct
// but expired code fails with the expiry error, not a silent accept.
func (w *Wallet) VerifyOTP(ctx context.Context, p *dompayment.Payment, otp string) (apppayment.OTPVerification, error) {
	var out apppayment.OTPVerification

	m, ok := p.Wallet()
	if !ok {
		return out, dompayment.ErrMethodMismatch
	}
	if m.OTPHash == "" {
		return out, dompayment.ErrInvalidOTP
	}
	if w.now().After(m.OTPExpiresAt) {
		return out, dompayment.ErrOTPExpired
	}
	if subtle.ConstantTimeCompare([]byte(hashOTP(otp)), []byte(m.OTPHash)) != 1 {
		return out, dompayment.ErrInvalidOTP
	}

	balance, err := w.store.Balance(ctx, m.Mobile)
	if err != nil {
		return out, fmt.Errorf("wallet: balance lookup: %w", err)
	}

	m.Verified = true
	m.BalanceSnapshot = balance

	return apppayment.OTPVerification{
		Verified:         true,
		AvailableBalance: balance,
		CanProceed:       balance.GreaterThanOrEqual(p.Snapshot.Total),
	}, nil
}

func (w *Wallet) VerifyCompletion(ctx context.Context, p *dompayment.Payment, _ apppayment.Proof) (apppayment.VerificationResult, error) {
	var result apppayment.VerificationResult

	m, ok := p.Wallet()
	if !ok {
		return result, dompayment.ErrMethodMismatch
	}
	if m.TransactionID != "" {
		// already debited; repeatable without a second debit
		return apppayment.VerificationResult{OK: true, TransactionID: m.TransactionID}, nil
	}
	if !m.Verified {
		return result, dompayment.ErrWalletNotVerified
	}

	total := p.Snapshot.Total
	if m.BalanceSnapshot.LessThan(total) {
		return result, &dompayment.InsufficientBalanceError{
			Available: m.BalanceSnapshot,
			Required:  total,
		}
	}

	if err := w.store.Debit(ctx, m.Mobile, total); err != nil {
		return result, fmt.Errorf("wallet: debit: %w", err)
	}

	m.BalanceSnapshot = m.BalanceSnapshot.Sub(total)
	m.TransactionID = "wtx_" + w.ids.NewID()

	return apppayment.VerificationResult{OK: true, TransactionID: m.TransactionID}, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashOTP(otp string) string {
	sum := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(sum[:])
}
