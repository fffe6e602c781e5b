package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickmeds/checkout/internal/domain/cart"
)

var (
	ErrNotFound = errors.New("payment: not found")
	ErrConflict = errors.New("payment: conflict")

	// ErrStateConflict signals an illegal transition on an already-terminal or
	// otherwise incompatible payment state.
	ErrStateConflict = errors.New("payment: invalid state transition")

	ErrSignatureVerification = errors.New("payment: signature verification failed")
	ErrOTPExpired            = errors.New("payment: otp expired")
	ErrInvalidOTP            = errors.New("payment: invalid otp")
	ErrWalletNotVerified     = errors.New("payment: wallet not verified")
	ErrExternalGateway       = errors.New("payment: external gateway error")

	ErrOrderAlreadyLinked = errors.New("payment: order already linked")
	ErrMethodMismatch     = errors.New("payment: operation not valid for payment method")
)

// InsufficientBalanceError reports a wallet balance short of the required
// total. The shortfall is informational only; no debit has happened.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("payment: insufficient wallet balance: available %s, required %s, remaining %s",
		e.Available.StringFixed(2), e.Required.StringFixed(2), e.Shortfall().StringFixed(2))
}

// Shortfall is negative when the balance cannot cover the total.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Available.Sub(e.Required)
}

func (e *InsufficientBalanceError) CanProceed() bool { return false }

type Status string

const (
	StatusCreated              Status = "created"
	StatusAwaitingVerification Status = "awaiting_verification"
	StatusSuccessful           Status = "successful"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusCancelled
}

// Payment owns the lifecycle from snapshot capture to a verified completion.
// The embedded snapshot never changes after construction; OrderID is set
// exactly once, when fulfillment commits against the successful state.
type Payment struct {
	ID            string
	UserID        string
	Method        Method
	Status        Status
	Snapshot      cart.Snapshot
	OrderID       string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, userID string, method Method, snapshot cart.Snapshot) (*Payment, error) {
	if id == "" {
		return nil, errors.New("payment: id is required")
	}
	if userID == "" {
		return nil, errors.New("payment: user id is required")
	}
	if method == nil || !method.Kind().Valid() {
		return nil, errors.New("payment: method is required")
	}
	if len(snapshot.Items) == 0 {
		return nil, errors.New("payment: snapshot must not be empty")
	}

	now := time.Now().UTC()
	return &Payment{
		ID:        id,
		UserID:    userID,
		Method:    method,
		Status:    StatusCreated,
		Snapshot:  snapshot,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Payment) Gateway() (*GatewayMethod, bool) {
	m, ok := p.Method.(*GatewayMethod)
	return m, ok
}

func (p *Payment) Wallet() (*WalletMethod, bool) {
	m, ok := p.Method.(*WalletMethod)
	return m, ok
}

// LinkOrder records the payment's single order link. It may only be applied to
// a successful payment, and only once.
func (p *Payment) LinkOrder(orderID string) error {
	if orderID == "" {
		return errors.New("payment: order id is required")
	}
	if p.Status != StatusSuccessful {
		return ErrStateConflict
	}
	if p.OrderID != "" {
		if p.OrderID == orderID {
			return nil
		}
		return ErrOrderAlreadyLinked
	}
	p.OrderID = orderID
	p.touch()
	return nil
}

// Abandoned reports whether a non-terminal payment has outlived the
// configured window. No reservation is released because none was taken.
func (p *Payment) Abandoned(now time.Time, window time.Duration) bool {
	if p.Status.Terminal() || window <= 0 {
		return false
	}
	return now.Sub(p.CreatedAt) > window
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.Method != nil {
		c.Method = p.Method.clone()
	}
	c.Snapshot.Items = append([]cart.SnapshotItem(nil), p.Snapshot.Items...)
	return &c
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}

type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}
