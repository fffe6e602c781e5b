package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	apppayment "github.com/quickmeds/checkout/internal/application/payment"
	"github.com/quickmeds/checkout/internal/config"
	"github.com/quickmeds/checkout/internal/domain/cart"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/observability"
)

const (
	statusCaptured   = "captured"
	statusAuthorized = "authorized"
	statusFailed     = "failed"

	reasonGatewayDeclined = "gateway_declined"
)

// Card is the card/UPI gateway adapter. Intent creation opens a remote order
// for the snapshot total in minor units; verification recomputes the HMAC
// signature over "remoteOrderId|remotePaymentId" and compares constant-time.
// Verification is safe to repeat: a second call with the same proof returns ok
// again without further side effects.
type Card struct {
	secret  []byte
	retries uint64
	remote  *remoteClient
	log     observability.Logger
}

func NewCard(cfg config.Gateway, tel observability.Observability) *Card {
	if tel == nil {
		tel = observability.Nop()
	}
	c := &Card{
		secret:  []byte(cfg.Secret),
		retries: cfg.VerifyRetries,
		log:     tel.Logger().With(observability.F("component", "card_gateway")),
	}
	if cfg.BaseURL != "" {
		c.remote = newRemoteClient(cfg.BaseURL, cfg.RequestTimeout, tel)
	}
	return c
}

func (c *Card) CreateIntent(ctx context.Context, snapshot cart.Snapshot) (*apppayment.Intent, error) {
	amount := snapshot.TotalMinorUnits()

	if c.remote == nil {
		// no remote configured (dev and tests): mint a local reference
		return &apppayment.Intent{
			RemoteOrderID:    "order_" + uuid.NewString(),
			AmountMinorUnits: amount,
			Currency:         snapshot.Currency,
		}, nil
	}

	resp, err := c.remote.createOrder(ctx, amount, snapshot.Currency, "")
	if err != nil {
		return nil, err
	}
	return &apppayment.Intent{
		RemoteOrderID:    resp.ID,
		AmountMinorUnits: resp.Amount,
		Currency:         resp.Currency,
	}, nil
}

func (c *Card) VerifyCompletion(ctx context.Context, p *dompayment.Payment, proof apppayment.Proof) (apppayment.VerificationResult, error) {
	var result apppayment.VerificationResult

	m, ok := p.Gateway()
	if !ok {
		return result, dompayment.ErrMethodMismatch
	}
	if proof.RemotePaymentID == "" || proof.Signature == "" {
		return result, dompayment.ErrSignatureVerification
	}
	remoteOrderID := proof.RemoteOrderID
	if remoteOrderID == "" {
		remoteOrderID = m.RemoteOrderID
	}
	if remoteOrderID != m.RemoteOrderID {
		// proof signed for a different remote order
		return result, dompayment.ErrSignatureVerification
	}

	if !c.signatureValid(remoteOrderID, proof.RemotePaymentID, proof.Signature) {
		return result, dompayment.ErrSignatureVerification
	}

	if c.remote != nil {
		status, err := c.remote.statusWithRetry(ctx, proof.RemotePaymentID, c.retries)
		if err != nil {
			return result, fmt.Errorf("%w: payment status: %v", dompayment.ErrExternalGateway, err)
		}
		switch status.Status {
		case statusCaptured, statusAuthorized:
			// fall through to success
		case statusFailed:
			m.RemotePaymentID = proof.RemotePaymentID
			m.Signature = proof.Signature
			return apppayment.VerificationResult{OK: false, Reason: reasonGatewayDeclined}, nil
		default:
			return result, fmt.Errorf("%w: unexpected payment status %q", dompayment.ErrExternalGateway, status.Status)
		}
	}

	m.RemotePaymentID = proof.RemotePaymentID
	m.Signature = proof.Signature
	return apppayment.VerificationResult{OK: true}, nil
}

// Sign computes the hex HMAC-SHA256 signature the gateway attaches to its
// callbacks. Exported for the wire contract's consumers and for tests.
func Sign(remoteOrderID, remotePaymentID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(remoteOrderID + "|" + remotePaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Card) signatureValid(remoteOrderID, remotePaymentID, signature string) bool {
	expected := Sign(remoteOrderID, remotePaymentID, c.secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
