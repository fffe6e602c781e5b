package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/quickmeds/checkout/internal/domain/order"
)

type OrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]*domain.Order
	byPayment map[string]string
	byNumber  map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]*domain.Order),
		byPayment: make(map[string]string),
		byNumber:  make(map[string]string),
	}
}

// Insert enforces uniqueness on the order id, the order number, and the owning
// payment. The per-payment uniqueness is what backs the fulfillment claim.
func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	if o.PaymentID == "" {
		return fmt.Errorf("order repository: payment id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return domain.ErrConflict
	}
	if _, exists := r.byPayment[o.PaymentID]; exists {
		return domain.ErrConflict
	}
	if o.Number != "" {
		if _, exists := r.byNumber[o.Number]; exists {
			return domain.ErrConflict
		}
	}

	r.orders[o.ID] = o.Clone()
	r.byPayment[o.PaymentID] = o.ID
	if o.Number != "" {
		r.byNumber[o.Number] = o.ID
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return o.Clone(), nil
}

func (r *OrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPayment[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o, found := r.orders[id]
	if !found {
		return nil, domain.ErrNotFound
	}

	return o.Clone(), nil
}
