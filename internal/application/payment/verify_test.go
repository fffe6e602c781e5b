package payment_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickmeds/checkout/internal/application/fulfillment"
	apppayment "github.com/quickmeds/checkout/internal/application/payment"
	"github.com/quickmeds/checkout/internal/config"
	"github.com/quickmeds/checkout/internal/domain/cart"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/infrastructure/gateway"
	"github.com/quickmeds/checkout/internal/infrastructure/id"
	"github.com/quickmeds/checkout/internal/infrastructure/memory"
)

type verifyFixture struct {
	uc       *apppayment.VerifyPaymentUseCase
	payments *memory.PaymentRepository
	orders   *memory.OrderRepository
	ledger   *memory.StockLedger
	wallets  *memory.WalletStore
	secret   string
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()

	f := &verifyFixture{
		payments: memory.NewPaymentRepository(),
		orders:   memory.NewOrderRepository(),
		ledger:   memory.NewStockLedger(),
		wallets:  memory.NewWalletStore(),
		secret:   "test-secret",
	}
	f.ledger.Seed("med-1", "strip-10", 10)
	f.wallets.Seed("9999900000", decimal.RequireFromString("1000.00"))

	ids := id.NewUUIDGenerator()
	gwConfig := config.Gateway{Secret: f.secret, RequestTimeout: time.Second, VerifyRetries: 1}
	gateways := apppayment.Gateways{
		Card:   gateway.NewCard(gwConfig, nil),
		COD:    gateway.NewCOD(),
		Wallet: gateway.NewWallet(f.wallets, ids, config.Wallet{OTPTTL: 10 * time.Minute}, nil),
	}

	engine := fulfillment.NewEngine(
		f.payments, f.orders, memory.NewCartRepository(), f.ledger,
		ids, id.NewOrderNumberGenerator(), nil,
		3, nil,
	)
	f.uc = apppayment.NewVerifyPaymentUseCase(f.payments, f.orders, gateways, engine, nil)
	return f
}

func (f *verifyFixture) insertPayment(t *testing.T, kind dompayment.MethodKind) *dompayment.Payment {
	t.Helper()
	snap := cart.Snapshot{
		Items: []cart.SnapshotItem{
			{ProductID: "med-1", VariantID: "strip-10", Quantity: 2,
				UnitPrice: decimal.RequireFromString("120.00"),
				LineTotal: decimal.RequireFromString("240.00")},
		},
		Subtotal: decimal.RequireFromString("240.00"),
		Total:    decimal.RequireFromString("333.20"),
		Currency: "INR",
	}
	p, err := dompayment.New("pay-"+string(kind), "user-1", dompayment.NewMethod(kind), snap)
	require.NoError(t, err)
	require.NoError(t, f.payments.Insert(context.Background(), p))
	return p
}

func TestVerifyCODCreatesOrder(t *testing.T) {
	f := newVerifyFixture(t)
	p := f.insertPayment(t, dompayment.MethodCOD)

	result, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: p.ID})
	require.NoError(t, err)

	assert.Equal(t, dompayment.StatusSuccessful, result.Status)
	assert.NotEmpty(t, result.OrderID)
	assert.False(t, result.Replayed)

	entry, err := f.ledger.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 8, entry.Available)
}

func TestVerifyGatewayValidProof(t *testing.T) {
	f := newVerifyFixture(t)
	p := f.insertPayment(t, dompayment.MethodGateway)
	m, _ := p.Gateway()
	m.RemoteOrderID = "order_abc"
	require.NoError(t, f.payments.Update(context.Background(), p))

	result, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{
		PaymentID: p.ID,
		Proof: apppayment.Proof{
			RemoteOrderID:   "order_abc",
			RemotePaymentID: "pay_remote_1",
			Signature:       gateway.Sign("order_abc", "pay_remote_1", []byte(f.secret)),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusSuccessful, result.Status)
	assert.NotEmpty(t, result.OrderNumber)
}

func TestVerifyGatewayBadSignatureLeavesPaymentOpen(t *testing.T) {
	f := newVerifyFixture(t)
	p := f.insertPayment(t, dompayment.MethodGateway)
	m, _ := p.Gateway()
	m.RemoteOrderID = "order_abc"
	require.NoError(t, f.payments.Update(context.Background(), p))

	_, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{
		PaymentID: p.ID,
		Proof: apppayment.Proof{
			RemoteOrderID:   "order_abc",
			RemotePaymentID: "pay_remote_1",
			Signature:       "forged",
		},
	})
	assert.ErrorIs(t, err, dompayment.ErrSignatureVerification)

	stored, err := f.payments.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusAwaitingVerification, stored.Status)
	assert.False(t, stored.Status.Terminal(), "a rejected proof must not consume the payment")

	// a corrected proof still completes
	result, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{
		PaymentID: p.ID,
		Proof: apppayment.Proof{
			RemoteOrderID:   "order_abc",
			RemotePaymentID: "pay_remote_1",
			Signature:       gateway.Sign("order_abc", "pay_remote_1", []byte(f.secret)),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusSuccessful, result.Status)
}

func TestVerifyReplayReturnsOriginalOutcome(t *testing.T) {
	f := newVerifyFixture(t)
	p := f.insertPayment(t, dompayment.MethodCOD)

	first, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: p.ID})
	require.NoError(t, err)

	second, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: p.ID})
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)

	entry, err := f.ledger.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 8, entry.Available, "replay must not decrement again")
}

func TestVerifyCancelledPaymentConflicts(t *testing.T) {
	f := newVerifyFixture(t)
	p := f.insertPayment(t, dompayment.MethodCOD)
	require.NoError(t, p.Cancel())
	require.NoError(t, f.payments.Update(context.Background(), p))

	_, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: p.ID})
	assert.ErrorIs(t, err, dompayment.ErrStateConflict)
}

func TestVerifyUnknownPayment(t *testing.T) {
	f := newVerifyFixture(t)

	_, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: "missing"})
	assert.ErrorIs(t, err, dompayment.ErrNotFound)
}

func TestVerifyWalletFullFlow(t *testing.T) {
	f := newVerifyFixture(t)
	p := f.insertPayment(t, dompayment.MethodWallet)

	// wallet already registered and OTP-verified before the pay step
	m, _ := p.Wallet()
	m.Mobile = "9999900000"
	m.Verified = true
	m.BalanceSnapshot = decimal.RequireFromString("1000.00")
	require.NoError(t, f.payments.Update(context.Background(), p))

	result, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: p.ID})
	require.NoError(t, err)

	assert.Equal(t, dompayment.StatusSuccessful, result.Status)
	assert.NotEmpty(t, result.TransactionID)
	assert.NotEmpty(t, result.OrderID)

	// the debit happened exactly once
	balance, err := f.wallets.Balance(context.Background(), "9999900000")
	require.NoError(t, err)
	assert.Equal(t, "666.80", balance.StringFixed(2))

	// replay keeps the transaction id and the balance
	replay, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: p.ID})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, result.TransactionID, replay.TransactionID)

	balance, err = f.wallets.Balance(context.Background(), "9999900000")
	require.NoError(t, err)
	assert.Equal(t, "666.80", balance.StringFixed(2))
}

func TestVerifyWalletConcurrentPayDebitsOnce(t *testing.T) {
	f := newVerifyFixture(t)
	p := f.insertPayment(t, dompayment.MethodWallet)

	m, _ := p.Wallet()
	m.Mobile = "9999900000"
	m.Verified = true
	m.BalanceSnapshot = decimal.RequireFromString("1000.00")
	require.NoError(t, f.payments.Update(context.Background(), p))

	const callers = 16
	var wg sync.WaitGroup
	var committed atomic.Int64
	transactionIDs := make([]string, callers)

	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: p.ID})
			if !assert.NoError(t, err) {
				return
			}
			if !result.Replayed {
				committed.Add(1)
			}
			transactionIDs[i] = result.TransactionID
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), committed.Load(), "exactly one caller performs the commit")
	for i := 1; i < callers; i++ {
		assert.Equal(t, transactionIDs[0], transactionIDs[i])
	}

	// one debit, one order, one decrement
	balance, err := f.wallets.Balance(context.Background(), "9999900000")
	require.NoError(t, err)
	assert.Equal(t, "666.80", balance.StringFixed(2))

	ord, err := f.orders.FindByPaymentID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, ord.ID)

	entry, err := f.ledger.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 8, entry.Available)
}

func TestVerifyWalletInsufficientBalance(t *testing.T) {
	f := newVerifyFixture(t)
	p := f.insertPayment(t, dompayment.MethodWallet)

	m, _ := p.Wallet()
	m.Mobile = "1111100000"
	m.Verified = true
	m.BalanceSnapshot = decimal.RequireFromString("100.00")
	require.NoError(t, f.payments.Update(context.Background(), p))
	f.wallets.Seed("1111100000", decimal.RequireFromString("100.00"))

	_, err := f.uc.Execute(context.Background(), apppayment.VerifyInput{PaymentID: p.ID})

	var short *dompayment.InsufficientBalanceError
	require.ErrorAs(t, err, &short)

	// the payment is still open; topping up and retrying can succeed later
	stored, err := f.payments.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, stored.Status.Terminal())
}
