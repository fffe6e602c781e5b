package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/quickmeds/checkout/internal/domain/stock"
)

func TestStockLedgerGet(t *testing.T) {
	l := NewStockLedger()
	l.Seed("med-1", "strip-10", 7)

	entry, err := l.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 7, entry.Available)
	assert.Equal(t, int64(1), entry.Version)

	_, err = l.Get(context.Background(), "ghost", "v1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStockLedgerDecrement(t *testing.T) {
	l := NewStockLedger()
	l.Seed("med-1", "strip-10", 7)

	entry, err := l.Decrement(context.Background(), "med-1", "strip-10", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, entry.Available)
	assert.Equal(t, int64(2), entry.Version)

	// the stale version loses
	_, err = l.Decrement(context.Background(), "med-1", "strip-10", 1, 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	// re-read and retry succeeds
	fresh, err := l.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	_, err = l.Decrement(context.Background(), "med-1", "strip-10", 1, fresh.Version)
	require.NoError(t, err)
}

func TestStockLedgerDecrementInsufficient(t *testing.T) {
	l := NewStockLedger()
	l.Seed("med-1", "strip-10", 2)

	_, err := l.Decrement(context.Background(), "med-1", "strip-10", 3, 1)

	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Available)

	// a failed decrement does not bump the version
	entry, err := l.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Version)
	assert.Equal(t, 2, entry.Available)
}

func TestStockLedgerDecrementValidation(t *testing.T) {
	l := NewStockLedger()
	l.Seed("med-1", "strip-10", 2)

	_, err := l.Decrement(context.Background(), "med-1", "strip-10", 0, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = l.Decrement(context.Background(), "ghost", "v1", 1, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStockLedgerRestore(t *testing.T) {
	l := NewStockLedger()
	l.Seed("med-1", "strip-10", 5)

	_, err := l.Decrement(context.Background(), "med-1", "strip-10", 5, 1)
	require.NoError(t, err)

	require.NoError(t, l.Restore(context.Background(), "med-1", "strip-10", 5))

	entry, err := l.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 5, entry.Available)
	assert.Equal(t, int64(3), entry.Version, "restore bumps the version too")

	assert.ErrorIs(t, l.Restore(context.Background(), "ghost", "v1", 1), domain.ErrNotFound)
	assert.ErrorIs(t, l.Restore(context.Background(), "med-1", "strip-10", 0), domain.ErrInvalidQuantity)
}

func TestStockLedgerConcurrentCAS(t *testing.T) {
	const seeded = 50
	const workers = 100

	l := NewStockLedger()
	l.Seed("med-1", "strip-10", seeded)

	var wg sync.WaitGroup
	var successes, failures sync.Map

	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// retry the read-decrement loop until a definitive outcome
			for {
				entry, err := l.Get(context.Background(), "med-1", "strip-10")
				if !assert.NoError(t, err) {
					return
				}
				_, err = l.Decrement(context.Background(), "med-1", "strip-10", 1, entry.Version)
				switch {
				case err == nil:
					successes.Store(i, true)
					return
				case errors.Is(err, domain.ErrVersionConflict):
					continue
				default:
					var insufficient *domain.InsufficientStockError
					assert.ErrorAs(t, err, &insufficient)
					failures.Store(i, true)
					return
				}
			}
		}()
	}
	wg.Wait()

	count := func(m *sync.Map) int {
		n := 0
		m.Range(func(any, any) bool { n++; return true })
		return n
	}

	assert.Equal(t, seeded, count(&successes))
	assert.Equal(t, workers-seeded, count(&failures))

	entry, err := l.Get(context.Background(), "med-1", "strip-10")
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Available)
}
