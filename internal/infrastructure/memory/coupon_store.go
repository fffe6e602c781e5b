package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/quickmeds/checkout/internal/domain/coupon"
)

type CouponStore struct {
	mu      sync.RWMutex
	coupons map[string]*domain.Coupon
}

func NewCouponStore() *CouponStore {
	return &CouponStore{
		coupons: make(map[string]*domain.Coupon),
	}
}

func (s *CouponStore) Seed(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.coupons[strings.ToUpper(c.Code)] = &c
}

func (s *CouponStore) Find(ctx context.Context, code string) (*domain.Coupon, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, domain.ErrNotFound
	}

	clone := *c
	return &clone, nil
}
