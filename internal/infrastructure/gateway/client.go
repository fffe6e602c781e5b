package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	dompayment "github.com/quickmeds/checkout/internal/domain/payment"
	"github.com/quickmeds/checkout/internal/observability"
)

const remotePeer = "card-gateway"

// remoteClient talks to the card/UPI processor. Every call is bounded by the
// configured timeout and runs through a circuit breaker; retries are applied
// by callers, and only for idempotent reads.
type remoteClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]

	requests observability.Counter
	duration observability.Histogram
}

func newRemoteClient(baseURL string, timeout time.Duration, tel observability.Observability) *remoteClient {
	if tel == nil {
		tel = observability.Nop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &remoteClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name: remotePeer,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		requests: tel.Metrics().Counter(observability.MGatewayRequests),
		duration: tel.Metrics().Histogram(observability.MGatewayRequestDuration),
	}
}

type remoteOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

type remoteOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type remotePaymentResponse struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (rc *remoteClient) createOrder(ctx context.Context, amount int64, currency, receipt string) (*remoteOrderResponse, error) {
	var out remoteOrderResponse
	err := rc.do(ctx, http.MethodPost, "/v1/orders", remoteOrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (rc *remoteClient) paymentStatus(ctx context.Context, remotePaymentID string) (*remotePaymentResponse, error) {
	var out remotePaymentResponse
	err := rc.do(ctx, http.MethodGet, "/v1/payments/"+remotePaymentID, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// statusWithRetry retries the idempotent status read with exponential backoff
// up to the given bound. Client errors are permanent; timeouts and 5xx are
// retried, then surfaced as an external gateway error.
func (rc *remoteClient) statusWithRetry(ctx context.Context, remotePaymentID string, retries uint64) (*remotePaymentResponse, error) {
	var out *remotePaymentResponse
	op := func() error {
		res, err := rc.paymentStatus(ctx, remotePaymentID)
		if err != nil {
			var herr *httpError
			if errors.As(err, &herr) && herr.status >= 400 && herr.status < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return out, nil
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("gateway: remote returned %d: %s", e.status, e.body)
}

func (rc *remoteClient) do(ctx context.Context, method, path string, in, out any) error {
	start := time.Now()
	outcome := "success"
	defer func() {
		rc.requests.Add(1,
			observability.L("peer", remotePeer),
			observability.L("endpoint", path),
			observability.L("outcome", outcome),
		)
		rc.duration.Observe(time.Since(start).Seconds(),
			observability.L("peer", remotePeer),
			observability.L("endpoint", path),
		)
	}()

	body, err := rc.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if in != nil {
			raw, err := json.Marshal(in)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, rc.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := rc.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, &httpError{status: resp.StatusCode, body: string(raw)}
		}
		return raw, nil
	})
	if err != nil {
		outcome = "error"
		var herr *httpError
		if errors.As(err, &herr) && herr.status >= 400 && herr.status < 500 {
			return err
		}
		return fmt.Errorf("%w: %s %s: %v", dompayment.ErrExternalGateway, method, path, err)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			outcome = "error"
			return fmt.Errorf("%w: decode %s %s: %v", dompayment.ErrExternalGateway, method, path, err)
		}
	}
	return nil
}
