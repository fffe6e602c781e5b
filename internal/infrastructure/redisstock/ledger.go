// Package redisstock is a Redis-backed stock ledger. Each variant lives in a
// hash holding its available count and version token; the compare-and-set
// decrement runs as a Lua script so the version check and the decrement are
// atomic on the server.
package redisstock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/quickmeds/checkout/internal/domain/stock"
)

const keyPrefix = "stock:"

// Script result codes. A non-negative first element is success and carries
// the remaining available count plus the new version.
const (
	scriptNotFound        = -1
	scriptVersionConflict = -2
	scriptInsufficient    = -3
)

var decrementScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])
local expected = tonumber(ARGV[2])
local now = ARGV[3]

local data = redis.call('HMGET', key, 'available', 'version')
if not data[1] then
	return {-1, 0, 0}
end

local available = tonumber(data[1])
local version = tonumber(data[2])
if version ~= expected then
	return {-2, available, version}
end
if available < quantity then
	return {-3, available, version}
end

redis.call('HSET', key, 'available', available - quantity, 'version', version + 1, 'updated_at', now)
return {0, available - quantity, version + 1}
`)

var restoreScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])
local now = ARGV[2]

if redis.call('EXISTS', key) == 0 then
	return -1
end

redis.call('HINCRBY', key, 'available', quantity)
redis.call('HINCRBY', key, 'version', 1)
redis.call('HSET', key, 'updated_at', now)
return 0
`)

type Ledger struct {
	client *redis.Client
	now    func() time.Time
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) Seed(ctx context.Context, productID, variantID string, quantity int) error {
	key := keyPrefix + domain.Key(productID, variantID)
	return l.client.HSet(ctx, key,
		"available", quantity,
		"version", 1,
		"updated_at", l.now().Format(time.RFC3339Nano),
	).Err()
}

func (l *Ledger) Get(ctx context.Context, productID, variantID string) (*domain.Entry, error) {
	key := keyPrefix + domain.Key(productID, variantID)

	vals, err := l.client.HMGet(ctx, key, "available", "version", "updated_at").Result()
	if err != nil {
		return nil, fmt.Errorf("redis stock: get %s: %w", key, err)
	}
	if vals[0] == nil {
		return nil, domain.ErrNotFound
	}

	entry := &domain.Entry{ProductID: productID, VariantID: variantID}
	if _, err := fmt.Sscan(vals[0].(string), &entry.Available); err != nil {
		return nil, fmt.Errorf("redis stock: parse available: %w", err)
	}
	if _, err := fmt.Sscan(vals[1].(string), &entry.Version); err != nil {
		return nil, fmt.Errorf("redis stock: parse version: %w", err)
	}
	if s, ok := vals[2].(string); ok {
		if t, perr := time.Parse(time.RFC3339Nano, s); perr == nil {
			entry.UpdatedAt = t
		}
	}
	return entry, nil
}

func (l *Ledger) Decrement(ctx context.Context, productID, variantID string, quantity int, expectedVersion int64) (*domain.Entry, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	key := keyPrefix + domain.Key(productID, variantID)

	raw, err := decrementScript.Run(ctx, l.client, []string{key},
		quantity, expectedVersion, l.now().Format(time.RFC3339Nano),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis stock: decrement %s: %w", key, err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("redis stock: unexpected script reply for %s", key)
	}

	switch raw[0] {
	case scriptNotFound:
		return nil, domain.ErrNotFound
	case scriptVersionConflict:
		return nil, domain.ErrVersionConflict
	case scriptInsufficient:
		return nil, &domain.InsufficientStockError{
			ProductID: productID,
			VariantID: variantID,
			Requested: quantity,
			Available: int(raw[1]),
		}
	}

	return &domain.Entry{
		ProductID: productID,
		VariantID: variantID,
		Available: int(raw[1]),
		Version:   raw[2],
		UpdatedAt: l.now(),
	}, nil
}

func (l *Ledger) Restore(ctx context.Context, productID, variantID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	key := keyPrefix + domain.Key(productID, variantID)

	code, err := restoreScript.Run(ctx, l.client, []string{key},
		quantity, l.now().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis stock: restore %s: %w", key, err)
	}
	if code == scriptNotFound {
		return domain.ErrNotFound
	}
	return nil
}
