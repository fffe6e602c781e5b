package stock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("stock: item not found")
	// ErrVersionConflict signals a compare-and-set decrement lost the race:
	// the stored version no longer matches the expected one.
	ErrVersionConflict = errors.New("stock: version conflict")
	ErrInvalidQuantity = errors.New("stock: quantity must be greater than zero")
)

// InsufficientStockError names the offending line so callers can surface it.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock for %s/%s: requested %d, available %d",
		e.ProductID, e.VariantID, e.Requested, e.Available)
}

// Entry is the authoritative available quantity for a product variant, with a
// version token for optimistic concurrency.
type Entry struct {
	ProductID string
	VariantID string
	Available int
	Version   int64
	UpdatedAt time.Time
}

// Ledger is the inventory collaborator. Decrement only succeeds when the
// stored version matches expectedVersion; Restore is the compensating
// increment used when an aborted fulfillment must hand stock back.
type Ledger interface {
	Get(ctx context.Context, productID, variantID string) (*Entry, error)
	Decrement(ctx context.Context, productID, variantID string, quantity int, expectedVersion int64) (*Entry, error)
	Restore(ctx context.Context, productID, variantID string, quantity int) error
}

func Key(productID, variantID string) string {
	return productID + "/" + variantID
}
