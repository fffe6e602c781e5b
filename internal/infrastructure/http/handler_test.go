package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcheckout "github.com/quickmeds/checkout/internal/application/checkout"
	"github.com/quickmeds/checkout/internal/application/fulfillment"
	apppayment "github.com/quickmeds/checkout/internal/application/payment"
	"github.com/quickmeds/checkout/internal/config"
	"github.com/quickmeds/checkout/internal/infrastructure/gateway"
	"github.com/quickmeds/checkout/internal/infrastructure/id"
	"github.com/quickmeds/checkout/internal/infrastructure/memory"
)

const testSecret = "test-secret"

type testServer struct {
	router  http.Handler
	ledger  *memory.StockLedger
	wallets *memory.WalletStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cartRepo := memory.NewCartRepository()
	paymentRepo := memory.NewPaymentRepository()
	orderRepo := memory.NewOrderRepository()
	ledger := memory.NewStockLedger()
	ledger.Seed("med-1", "strip-10", 10)
	walletStore := memory.NewWalletStore()
	walletStore.Seed("9999900000", decimal.RequireFromString("1000.00"))

	ids := id.NewUUIDGenerator()
	pricing := config.Pricing{
		Currency:              "INR",
		TaxRate:               decimal.RequireFromString("0.18"),
		ShippingFlatRate:      decimal.RequireFromString("50.00"),
		FreeShippingThreshold: decimal.RequireFromString("1000.00"),
	}
	gateways := apppayment.Gateways{
		Card:   gateway.NewCard(config.Gateway{Secret: testSecret, RequestTimeout: time.Second}, nil),
		COD:    gateway.NewCOD(),
		Wallet: gateway.NewWallet(walletStore, ids, config.Wallet{OTPTTL: 10 * time.Minute}, nil),
	}

	snapshotter := appcheckout.NewSnapshotter(ledger, memory.NewCouponStore(), pricing)
	engine := fulfillment.NewEngine(
		paymentRepo, orderRepo, cartRepo, ledger,
		ids, id.NewOrderNumberGenerator(), nil, 3, nil,
	)

	handler := NewHandler(
		appcheckout.NewInitiateUseCase(cartRepo, paymentRepo, snapshotter, gateways, ids, nil),
		apppayment.NewVerifyPaymentUseCase(paymentRepo, orderRepo, gateways, engine, nil),
		apppayment.NewService(paymentRepo, 24*time.Hour, nil),
		apppayment.NewWalletService(paymentRepo, gateways.Wallet, nil),
		cartRepo, orderRepo,
	)

	return &testServer{
		router:  handler.Router(),
		ledger:  ledger,
		wallets: walletStore,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) saveCart(t *testing.T, qty int) {
	t.Helper()
	rec := s.do(t, http.MethodPut, "/cart", map[string]any{
		"user_id": "user-1",
		"items": []map[string]any{
			{"product_id": "med-1", "variant_id": "strip-10", "quantity": qty, "unit_price": "120.00"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) checkout(t *testing.T, method string) map[string]any {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/checkout", map[string]any{
		"user_id": "user-1",
		"method":  method,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCheckoutCOD(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)

	resp := s.checkout(t, "cod")
	assert.NotEmpty(t, resp["payment_id"])
	assert.Equal(t, "created", resp["status"])

	snap := resp["snapshot"].(map[string]any)
	assert.Equal(t, "240.00", snap["subtotal"])
	assert.Equal(t, "43.20", snap["tax_amount"])
	assert.Equal(t, "50.00", snap["shipping_charge"])
	assert.Equal(t, "333.20", snap["total"])
}

func TestCheckoutGatewayReturnsIntent(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)

	resp := s.checkout(t, "gateway")
	assert.Equal(t, "awaiting_verification", resp["status"])

	intent := resp["intent"].(map[string]any)
	assert.NotEmpty(t, intent["remote_order_id"])
	assert.Equal(t, float64(33320), intent["amount_minor_units"])
}

func TestCheckoutEmptyCart(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/checkout", map[string]any{
		"user_id": "user-1",
		"method":  "cod",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 1)

	rec := s.do(t, http.MethodPost, "/checkout", map[string]any{
		"user_id": "user-1",
		"method":  "bitcoin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 50)

	rec := s.do(t, http.MethodPost, "/checkout", map[string]any{
		"user_id": "user-1",
		"method":  "cod",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_stock", resp["code"])
}

func TestConfirmCODCreatesOrder(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)
	paymentID := s.checkout(t, "cod")["payment_id"].(string)

	rec := s.do(t, http.MethodPost, "/payments/"+paymentID+"/confirm-cod", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "successful", resp["status"])
	assert.NotEmpty(t, resp["order_id"])

	// the order is readable afterwards
	orderRec := s.do(t, http.MethodGet, "/orders/"+resp["order_id"].(string), nil)
	require.Equal(t, http.StatusOK, orderRec.Code)

	var order map[string]any
	require.NoError(t, json.Unmarshal(orderRec.Body.Bytes(), &order))
	assert.Equal(t, "created", order["status"])
	assert.Equal(t, "333.20", order["total"])
}

func TestConfirmCODIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)
	paymentID := s.checkout(t, "cod")["payment_id"].(string)

	first := s.do(t, http.MethodPost, "/payments/"+paymentID+"/confirm-cod", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := s.do(t, http.MethodPost, "/payments/"+paymentID+"/confirm-cod", nil)
	require.Equal(t, http.StatusOK, second.Code)

	var firstResp, secondResp map[string]any
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	assert.Equal(t, firstResp["order_id"], secondResp["order_id"])
	assert.Equal(t, true, secondResp["replayed"])
}

func TestVerifyGatewayProof(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)
	resp := s.checkout(t, "gateway")
	paymentID := resp["payment_id"].(string)
	remoteOrderID := resp["intent"].(map[string]any)["remote_order_id"].(string)

	// tampered signature → 400, payment stays open
	bad := s.do(t, http.MethodPost, "/payments/"+paymentID+"/verify", map[string]any{
		"remote_order_id":   remoteOrderID,
		"remote_payment_id": "pay_remote_1",
		"signature":         "forged",
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	good := s.do(t, http.MethodPost, "/payments/"+paymentID+"/verify", map[string]any{
		"remote_order_id":   remoteOrderID,
		"remote_payment_id": "pay_remote_1",
		"signature":         gateway.Sign(remoteOrderID, "pay_remote_1", []byte(testSecret)),
	})
	require.Equal(t, http.StatusOK, good.Code, good.Body.String())
}

func TestVerifyUnknownPayment(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/payments/missing/verify", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelThenConfirmConflicts(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)
	paymentID := s.checkout(t, "cod")["payment_id"].(string)

	cancel := s.do(t, http.MethodPost, "/payments/"+paymentID+"/cancel", nil)
	require.Equal(t, http.StatusOK, cancel.Code)

	confirm := s.do(t, http.MethodPost, "/payments/"+paymentID+"/confirm-cod", nil)
	assert.Equal(t, http.StatusConflict, confirm.Code)

	// cancellation leaves the ledger untouched
	entry, err := s.ledger.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 10, entry.Available)
	assert.Equal(t, int64(1), entry.Version)
}

func TestWalletFlowEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)
	paymentID := s.checkout(t, "wallet")["payment_id"].(string)

	reg := s.do(t, http.MethodPost, "/payments/"+paymentID+"/wallet/register", map[string]any{
		"mobile": "9999900000",
	})
	require.Equal(t, http.StatusOK, reg.Code, reg.Body.String())

	// a wrong code is rejected
	otp := s.do(t, http.MethodPost, "/payments/"+paymentID+"/wallet/verify-otp", map[string]any{
		"otp": "000000",
	})
	if otp.Code == http.StatusOK {
		t.Skip("generated OTP happened to be 000000")
	}
	assert.Equal(t, http.StatusBadRequest, otp.Code)

	// paying before OTP verification is refused
	pay := s.do(t, http.MethodPost, "/payments/"+paymentID+"/wallet/pay", nil)
	assert.Equal(t, http.StatusBadRequest, pay.Code)

	var payResp map[string]any
	require.NoError(t, json.Unmarshal(pay.Body.Bytes(), &payResp))
	assert.Equal(t, "wallet_not_verified", payResp["code"])
}

func TestWalletEndpointsOnWrongMethod(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)
	paymentID := s.checkout(t, "cod")["payment_id"].(string)

	rec := s.do(t, http.MethodPost, "/payments/"+paymentID+"/wallet/register", map[string]any{
		"mobile": "9999900000",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPayment(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)
	paymentID := s.checkout(t, "cod")["payment_id"].(string)

	rec := s.do(t, http.MethodGet, "/payments/"+paymentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cod", resp["method"])
	assert.Equal(t, "created", resp["status"])
	assert.Equal(t, false, resp["abandoned"])

	missing := s.do(t, http.MethodGet, "/payments/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMalformedJSONBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(`{"user_id": `))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown fields are rejected too
	rec2 := s.do(t, http.MethodPost, "/checkout", map[string]any{
		"user_id": "user-1", "method": "cod", "surprise": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestCheckoutTwiceConsumesNothing(t *testing.T) {
	s := newTestServer(t)
	s.saveCart(t, 2)

	first := s.checkout(t, "cod")
	second := s.checkout(t, "cod")
	assert.NotEqual(t, first["payment_id"], second["payment_id"])

	// two open payments, still 10 in stock: nothing reserved at checkout
	entry, err := s.ledger.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 10, entry.Available)
}
