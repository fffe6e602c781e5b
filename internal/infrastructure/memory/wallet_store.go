package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	domain "github.com/quickmeds/checkout/internal/domain/payment"
)

// WalletStore holds per-mobile wallet balances. It stands in for the wallet
// provider's own ledger.
type WalletStore struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

func NewWalletStore() *WalletStore {
	return &WalletStore{
		balances: make(map[string]decimal.Decimal),
	}
}

func (s *WalletStore) Seed(mobile string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[mobile] = balance
}

func (s *WalletStore) Balance(ctx context.Context, mobile string) (decimal.Decimal, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[mobile]
	if !ok {
		// unknown wallets start empty rather than erroring; registration
		// happens on the provider side, not here
		return decimal.Zero, nil
	}
	return balance, nil
}

func (s *WalletStore) Debit(ctx context.Context, mobile string, amount decimal.Decimal) error {
	_ = ctx
	if amount.IsNegative() {
		return fmt.Errorf("wallet store: negative debit amount")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balances[mobile]
	if balance.LessThan(amount) {
		return &domain.InsufficientBalanceError{
			Available: balance,
			Required:  amount,
		}
	}

	s.balances[mobile] = balance.Sub(amount)
	return nil
}
