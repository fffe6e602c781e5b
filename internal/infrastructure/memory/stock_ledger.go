package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/quickmeds/checkout/internal/domain/stock"
)

// StockLedger keeps per-variant availability with a version token. Decrement
// is compare-and-set: it only applies when the caller's expected version still
// matches, so concurrent checkouts of the same variant serialize through
// conflict-and-retry instead of overselling.
type StockLedger struct {
	mu      sync.RWMutex
	entries map[string]*domain.Entry
}

func NewStockLedger() *StockLedger {
	return &StockLedger{
		entries: make(map[string]*domain.Entry),
	}
}

// Seed installs an entry, overwriting any existing one. Used at startup and
// in tests.
func (l *StockLedger) Seed(productID, variantID string, quantity int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[domain.Key(productID, variantID)] = &domain.Entry{
		ProductID: productID,
		VariantID: variantID,
		Available: quantity,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
}

func (l *StockLedger) Get(ctx context.Context, productID, variantID string) (*domain.Entry, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[domain.Key(productID, variantID)]
	if !ok {
		return nil, domain.ErrNotFound
	}

	clone := *e
	return &clone, nil
}

func (l *StockLedger) Decrement(ctx context.Context, productID, variantID string, quantity int, expectedVersion int64) (*domain.Entry, error) {
	_ = ctx
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[domain.Key(productID, variantID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if e.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}
	if e.Available < quantity {
		return nil, &domain.InsufficientStockError{
			ProductID: productID,
			VariantID: variantID,
			Requested: quantity,
			Available: e.Available,
		}
	}

	e.Available -= quantity
	e.Version++
	e.UpdatedAt = time.Now().UTC()

	clone := *e
	return &clone, nil
}

func (l *StockLedger) Restore(ctx context.Context, productID, variantID string, quantity int) error {
	_ = ctx
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[domain.Key(productID, variantID)]
	if !ok {
		return domain.ErrNotFound
	}

	e.Available += quantity
	e.Version++
	e.UpdatedAt = time.Now().UTC()
	return nil
}
