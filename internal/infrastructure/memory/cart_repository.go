package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/quickmeds/checkout/internal/domain/cart"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts: make(map[string]*domain.Cart),
	}
}

func (r *CartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cloneCart(c), nil
}

func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	_ = ctx
	if c == nil || c.UserID == "" {
		return fmt.Errorf("cart repository: user id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[c.UserID] = cloneCart(c)
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.carts[userID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.carts, userID)
	return nil
}

func cloneCart(c *domain.Cart) *domain.Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Items = append([]domain.Item(nil), c.Items...)
	return &clone
}
