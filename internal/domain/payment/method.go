package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type MethodKind string

const (
	MethodGateway MethodKind = "gateway"
	MethodCOD     MethodKind = "cod"
	MethodWallet  MethodKind = "wallet"
)

func (k MethodKind) Valid() bool {
	switch k {
	case MethodGateway, MethodCOD, MethodWallet:
		return true
	}
	return false
}

// Method is the tagged union of payment-method specific state. Each variant
// carries only the fields its flow needs instead of one record with many
// optional columns.
type Method interface {
	Kind() MethodKind
	clone() Method
}

// GatewayMethod holds the remote card/UPI processor references. RemoteOrderID
// is set when the intent is opened; the payment id and signature arrive with
// the verification callback.
type GatewayMethod struct {
	RemoteOrderID   string
	RemotePaymentID string
	Signature       string
}

func (*GatewayMethod) Kind() MethodKind { return MethodGateway }

func (m *GatewayMethod) clone() Method {
	c := *m
	return &c
}

// CODMethod has no external proof; completion is an explicit confirmation.
type CODMethod struct{}

func (*CODMethod) Kind() MethodKind { return MethodCOD }

func (m *CODMethod) clone() Method {
	c := *m
	return &c
}

// WalletMethod tracks the three-step mobile wallet flow: register (OTP issued),
// verify (OTP checked, balance snapshotted), pay (balance debited).
type WalletMethod struct {
	Mobile          string
	OTPHash         string
	OTPExpiresAt    time.Time
	Verified        bool
	BalanceSnapshot decimal.Decimal
	TransactionID   string
}

func (*WalletMethod) Kind() MethodKind { return MethodWallet }

func (m *WalletMethod) clone() Method {
	c := *m
	return &c
}

func NewMethod(kind MethodKind) Method {
	switch kind {
	case MethodGateway:
		return &GatewayMethod{}
	case MethodCOD:
		return &CODMethod{}
	case MethodWallet:
		return &WalletMethod{}
	}
	return nil
}
