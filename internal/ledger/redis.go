package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/gravitas-games/forge/internal/inventory"
)

// DefaultRedisPrefix namespaces owner hashes.
const DefaultRedisPrefix = "forge:ledger:"

const defaultRedisRetries = 8

// Redis keeps one hash per owner (field = material, value = quantity) and
// commits every change in a WATCH/MULTI transaction on that hash. Writers in
// this process also take the owner's lock, so retries only happen against
// other processes.
type Redis struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	locks      *ownerLocks
}

// RedisOption configures a Redis ledger.
type RedisOption func(*Redis)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRedisRetries overrides how many optimistic attempts are made before
// ErrContention is returned.
func WithRedisRetries(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// NewRedis wraps an existing client. The ledger does not own the client
// unless Close is called.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		prefix:     DefaultRedisPrefix,
		maxRetries: defaultRedisRetries,
		locks:      newOwnerLocks(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) key(owner inventory.OwnerID) string {
	return r.prefix + string(owner)
}

// CheckAndDeduct implements Ledger.
func (r *Redis) CheckAndDeduct(ctx context.Context, owner inventory.OwnerID, required inventory.Counts) (inventory.Counts, error) {
	return r.apply(ctx, owner, required, planDeduct)
}

// Credit implements Ledger.
func (r *Redis) Credit(ctx context.Context, owner inventory.OwnerID, items inventory.Counts) (inventory.Counts, error) {
	return r.apply(ctx, owner, items, func(current, items inventory.Counts) (inventory.Counts, error) {
		return planCredit(current, items), nil
	})
}

// Balance implements Ledger.
func (r *Redis) Balance(ctx context.Context, owner inventory.OwnerID) (inventory.Counts, error) {
	vals, err := r.client.HGetAll(ctx, r.key(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s: %w", owner, err)
	}
	return parseHash(vals)
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func parseHash(vals map[string]string) (inventory.Counts, error) {
	counts := make(inventory.Counts, len(vals))
	for field, raw := range vals {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger quantity for %s: %w", field, err)
		}
		counts.Add(inventory.MaterialID(field), qty)
	}
	return counts, nil
}

func (r *Redis) apply(ctx context.Context, owner inventory.OwnerID, items inventory.Counts, plan func(current, items inventory.Counts) (inventory.Counts, error)) (inventory.Counts, error) {
	if err := checkCounts(owner, items); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(owner)
	defer unlock()

	key := r.key(owner)
	var next inventory.Counts

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := parseHash(vals)
		if err != nil {
			return err
		}
		next, err = plan(current, items)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id := range items {
				if qty, ok := next[id]; ok {
					pipe.HSet(ctx, key, string(id), qty)
				} else {
					pipe.HDel(ctx, key, string(id))
				}
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var insufficient *InsufficientMaterialError
		if errors.As(err, &insufficient) {
			return nil, err
		}
		return nil, fmt.Errorf("ledger transaction for %s failed: %w", owner, err)
	}
	return nil, ErrContention
}
