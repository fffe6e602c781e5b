package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quickmeds/checkout/internal/application"
	appcheckout "github.com/quickmeds/checkout/internal/application/checkout"
	apppayment "github.com/quickmeds/checkout/internal/application/payment"
	domcart "github.com/quickmeds/checkout/internal/domain/cart"
	domcoupon "github.com/quickmeds/checkout/internal/domain/coupon"
	domorder "github.com/quickmeds/checkout/internal/domain/order"
	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	domstock "github.com/quickmeds/checkout/internal/domain/stock"
)

// Handler exposes the checkout and payment flows over JSON/HTTP.
type Handler struct {
	initiate   *appcheckout.InitiateUseCase
	verify     *apppayment.VerifyPaymentUseCase
	payments   *apppayment.Service
	wallet     *apppayment.WalletService
	carts      domcart.Repository
	orders     domorder.Repository
	middleware []func(http.Handler) http.Handler
}

func NewHandler(
	initiate *appcheckout.InitiateUseCase,
	verify *apppayment.VerifyPaymentUseCase,
	payments *apppayment.Service,
	wallet *apppayment.WalletService,
	carts domcart.Repository,
	orders domorder.Repository,
	middleware ...func(http.Handler) http.Handler,
) *Handler {
	return &Handler{
		initiate:   initiate,
		verify:     verify,
		payments:   payments,
		wallet:     wallet,
		carts:      carts,
		orders:     orders,
		middleware: middleware,
	}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	for _, mw := range h.middleware {
		r.Use(mw)
	}

	r.Put("/cart", h.handleSaveCart)
	r.Post("/checkout", h.handleCheckout)

	r.Route("/payments/{paymentID}", func(r chi.Router) {
		r.Get("/", h.handleGetPayment)
		r.Post("/verify", h.handleVerify)
		r.Post("/confirm-cod", h.handleConfirmCOD)
		r.Post("/cancel", h.handleCancel)
		r.Route("/wallet", func(r chi.Router) {
			r.Post("/register", h.handleWalletRegister)
			r.Post("/verify-otp", h.handleWalletVerifyOTP)
			r.Post("/pay", h.handleWalletPay)
		})
	})

	r.Get("/orders/{orderID}", h.handleGetOrder)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type saveCartRequest struct {
	UserID          string            `json:"user_id"`
	Items           []cartItemRequest `json:"items"`
	CouponCode      string            `json:"coupon_code,omitempty"`
	ShippingAddress domcart.Address   `json:"shipping_address"`
	BillingAddress  domcart.Address   `json:"billing_address"`
}

// handleSaveCart replaces the user's live cart. Cart ownership lives upstream
// in a real deployment; this endpoint keeps the service self-contained.
func (h *Handler) handleSaveCart(w http.ResponseWriter, r *http.Request) {
	var req saveCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("user_id is required"))
		return
	}

	items := make([]domcart.Item, 0, len(req.Items))
	for _, it := range req.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("unit_price for %s: %w", it.ProductID, err))
			return
		}
		items = append(items, domcart.Item{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: price,
		})
	}

	c := &domcart.Cart{
		UserID:          req.UserID,
		Items:           items,
		CouponCode:      req.CouponCode,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := h.carts.Save(r.Context(), c); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": req.UserID,
		"items":   len(items),
	})
}

type checkoutRequest struct {
	UserID string `json:"user_id"`
	Method string `json:"method"`
}

type intentResponse struct {
	RemoteOrderID    string `json:"remote_order_id"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
}

type checkoutResponse struct {
	PaymentID string           `json:"payment_id"`
	Status    string           `json:"status"`
	Snapshot  snapshotResponse `json:"snapshot"`
	Intent    *intentResponse  `json:"intent,omitempty"`
}

type snapshotResponse struct {
	Items          []snapshotItemResponse `json:"items"`
	Subtotal       string                 `json:"subtotal"`
	TaxAmount      string                 `json:"tax_amount"`
	ShippingCharge string                 `json:"shipping_charge"`
	Discount       string                 `json:"discount"`
	Total          string                 `json:"total"`
	Currency       string                 `json:"currency"`
}

type snapshotItemResponse struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err)
		return
	}

	result, err := h.initiate.Execute(r.Context(), appcheckout.InitiateInput{
		UserID: req.UserID,
		Method: dompayment.MethodKind(req.Method),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := checkoutResponse{
		PaymentID: result.PaymentID,
		Status:    string(result.Status),
		Snapshot:  toSnapshotResponse(result.Snapshot),
	}
	if result.Intent != nil {
		resp.Intent = &intentResponse{
			RemoteOrderID:    result.Intent.RemoteOrderID,
			AmountMinorUnits: result.Intent.AmountMinorUnits,
			Currency:         result.Intent.Currency,
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

type verifyRequest struct {
	RemoteOrderID   string `json:"remote_order_id"`
	RemotePaymentID string `json:"remote_payment_id"`
	Signature       string `json:"signature"`
}

type verifyResponse struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	OrderID       string `json:"order_id,omitempty"`
	OrderNumber   string `json:"order_number,omitempty"`
	OrderStatus   string `json:"order_status,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Replayed      bool   `json:"replayed,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err)
		return
	}

	h.executeVerify(w, r, apppayment.Proof{
		RemoteOrderID:   req.RemoteOrderID,
		RemotePaymentID: req.RemotePaymentID,
		Signature:       req.Signature,
	})
}

// handleConfirmCOD completes a cash-on-delivery payment; there is no external
// proof to carry.
func (h *Handler) handleConfirmCOD(w http.ResponseWriter, r *http.Request) {
	h.executeVerify(w, r, apppayment.Proof{})
}

// handleWalletPay is the wallet flow's final step; the proof lives in the
// verified wallet state.
func (h *Handler) handleWalletPay(w http.ResponseWriter, r *http.Request) {
	h.executeVerify(w, r, apppayment.Proof{})
}

func (h *Handler) executeVerify(w http.ResponseWriter, r *http.Request, proof apppayment.Proof) {
	result, err := h.verify.Execute(r.Context(), apppayment.VerifyInput{
		PaymentID: chi.URLParam(r, "paymentID"),
		Proof:     proof,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		PaymentID:     result.PaymentID,
		Status:        string(result.Status),
		OrderID:       result.OrderID,
		OrderNumber:   result.OrderNumber,
		OrderStatus:   string(result.OrderStatus),
		TransactionID: result.TransactionID,
		Reason:        result.Reason,
		Replayed:      result.Replayed,
	})
}

type walletRegisterRequest struct {
	Mobile string `json:"mobile"`
}

func (h *Handler) handleWalletRegister(w http.ResponseWriter, r *http.Request) {
	var req walletRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err)
		return
	}

	if err := h.wallet.Register(r.Context(), chi.URLParam(r, "paymentID"), req.Mobile); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "otp_issued"})
}

type walletVerifyOTPRequest struct {
	OTP string `json:"otp"`
}

type walletVerifyOTPResponse struct {
	Verified         bool   `json:"verified"`
	AvailableBalance string `json:"available_balance"`
	CanProceed       bool   `json:"can_proceed"`
}

func (h *Handler) handleWalletVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req walletVerifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err)
		return
	}

	result, err := h.wallet.VerifyOTP(r.Context(), chi.URLParam(r, "paymentID"), req.OTP)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletVerifyOTPResponse{
		Verified:         result.Verified,
		AvailableBalance: result.AvailableBalance.StringFixed(2),
		CanProceed:       result.CanProceed,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Cancel(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"payment_id": p.ID,
		"status":     string(p.Status),
	})
}

type paymentResponse struct {
	PaymentID     string           `json:"payment_id"`
	UserID        string           `json:"user_id"`
	Method        string           `json:"method"`
	Status        string           `json:"status"`
	OrderID       string           `json:"order_id,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Abandoned     bool             `json:"abandoned"`
	Snapshot      snapshotResponse `json:"snapshot"`
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	view, err := h.payments.Get(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	p := view.Payment
	writeJSON(w, http.StatusOK, paymentResponse{
		PaymentID:     p.ID,
		UserID:        p.UserID,
		Method:        string(p.Method.Kind()),
		Status:        string(p.Status),
		OrderID:       p.OrderID,
		FailureReason: p.FailureReason,
		Abandoned:     view.Abandoned,
		Snapshot:      toSnapshotResponse(p.Snapshot),
	})
}

type orderResponse struct {
	OrderID        string                 `json:"order_id"`
	Number         string                 `json:"number"`
	UserID         string                 `json:"user_id"`
	PaymentID      string                 `json:"payment_id"`
	Status         string                 `json:"status"`
	PaymentStatus  string                 `json:"payment_status"`
	Items          []snapshotItemResponse `json:"items"`
	Subtotal       string                 `json:"subtotal"`
	TaxAmount      string                 `json:"tax_amount"`
	ShippingCharge string                 `json:"shipping_charge"`
	Discount       string                 `json:"discount"`
	Total          string                 `json:"total"`
	Currency       string                 `json:"currency"`
	FailureReason  string                 `json:"failure_reason,omitempty"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]snapshotItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, snapshotItemResponse{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			LineTotal: it.LineTotal.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:        o.ID,
		Number:         o.Number,
		UserID:         o.UserID,
		PaymentID:      o.PaymentID,
		Status:         string(o.Status),
		PaymentStatus:  o.PaymentStatus,
		Items:          items,
		Subtotal:       o.Subtotal.StringFixed(2),
		TaxAmount:      o.TaxAmount.StringFixed(2),
		ShippingCharge: o.ShippingCharge.StringFixed(2),
		Discount:       o.Discount.StringFixed(2),
		Total:          o.Total.StringFixed(2),
		Currency:       o.Currency,
		FailureReason:  o.FailureReason,
	})
}

func toSnapshotResponse(s domcart.Snapshot) snapshotResponse {
	items := make([]snapshotItemResponse, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, snapshotItemResponse{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			LineTotal: it.LineTotal.StringFixed(2),
		})
	}
	return snapshotResponse{
		Items:          items,
		Subtotal:       s.Subtotal.StringFixed(2),
		TaxAmount:      s.TaxAmount.StringFixed(2),
		ShippingCharge: s.ShippingCharge.StringFixed(2),
		Discount:       s.Discount.StringFixed(2),
		Total:          s.Total.StringFixed(2),
		Currency:       s.Currency,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Shortfall string `json:"shortfall,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

// writeDomainError translates domain failures to HTTP statuses. Rejections the
// caller can correct (validation, stock, balance, proof) are 400s; lifecycle
// violations are 409s; gateway outages surface as 502.
func writeDomainError(w http.ResponseWriter, err error) {
	var insufficientStock *domstock.InsufficientStockError
	var insufficientBalance *dompayment.InsufficientBalanceError

	switch {
	case errors.As(err, &insufficientBalance):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:      "insufficient_balance",
			Message:   err.Error(),
			Shortfall: insufficientBalance.Shortfall().StringFixed(2),
		})
	case errors.As(err, &insufficientStock):
		writeError(w, http.StatusBadRequest, "insufficient_stock", err)
	case errors.Is(err, application.ErrValidation),
		errors.Is(err, domcart.ErrEmptyCart),
		errors.Is(err, domcoupon.ErrNotFound),
		errors.Is(err, domstock.ErrInvalidQuantity),
		errors.Is(err, dompayment.ErrMethodMismatch):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, dompayment.ErrSignatureVerification):
		writeError(w, http.StatusBadRequest, "signature_verification_failed", err)
	case errors.Is(err, dompayment.ErrInvalidOTP):
		writeError(w, http.StatusBadRequest, "invalid_otp", err)
	case errors.Is(err, dompayment.ErrOTPExpired):
		writeError(w, http.StatusBadRequest, "otp_expired", err)
	case errors.Is(err, dompayment.ErrWalletNotVerified):
		writeError(w, http.StatusBadRequest, "wallet_not_verified", err)
	case errors.Is(err, dompayment.ErrNotFound),
		errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, domcart.ErrNotFound),
		errors.Is(err, domstock.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, dompayment.ErrStateConflict),
		errors.Is(err, dompayment.ErrOrderAlreadyLinked):
		writeError(w, http.StatusConflict, "state_conflict", err)
	case errors.Is(err, dompayment.ErrExternalGateway):
		writeError(w, http.StatusBadGateway, "gateway_unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
