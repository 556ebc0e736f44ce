package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/gravitas-games/forge/internal/inventory"
)

type backend struct {
	name string
	open func(t *testing.T) Ledger
}

func backends() []backend {
	list := []backend{
		{name: "memory", open: func(t *testing.T) Ledger { return NewMemory() }},
		{name: "sqlite", open: func(t *testing.T) Ledger {
			l, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.sqlite"))
			require.NoError(t, err)
			return l
		}},
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		list = append(list, backend{name: "redis", open: func(t *testing.T) Ledger {
			client := redis.NewClient(&redis.Options{Addr: addr})
			require.NoError(t, client.Ping(context.Background()).Err())
			prefix := fmt.Sprintf("forge:test:%d:", time.Now().UnixNano())
			return NewRedis(client, WithRedisPrefix(prefix))
		}})
	}
	return list
}

func forEachBackend(t *testing.T, fn func(t *testing.T, l Ledger)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			l := b.open(t)
			t.Cleanup(func() { _ = l.Close() })
			fn(t, l)
		})
	}
}

func seed(t *testing.T, l Ledger, owner inventory.OwnerID, counts inventory.Counts) {
	t.Helper()
	_, err := l.Credit(context.Background(), owner, counts)
	require.NoError(t, err)
}

func TestCheckAndDeductIsAllOrNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		seed(t, l, "u1", inventory.Counts{"A": 2, "B": 1})

		_, err := l.CheckAndDeduct(ctx, "u1", inventory.Counts{"A": 2, "B": 2})
		var insufficient *InsufficientMaterialError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, inventory.MaterialID("B"), insufficient.Material)
		assert.Equal(t, 2, insufficient.Required)
		assert.Equal(t, 1, insufficient.Available)

		balance, err := l.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, inventory.Counts{"A": 2, "B": 1}, balance)
	})
}

func TestCheckAndDeductRemovesZeroEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		seed(t, l, "u1", inventory.Counts{"iron": 20, "oak": 3})

		remaining, err := l.CheckAndDeduct(ctx, "u1", inventory.Counts{"iron": 15, "oak": 3})
		require.NoError(t, err)
		assert.Equal(t, inventory.Counts{"iron": 5}, remaining)

		balance, err := l.Balance(ctx, "u1")
		require.NoError(t, err)
		_, hasOak := balance["oak"]
		assert.False(t, hasOak, "zero quantity must not persist")
		assert.Equal(t, inventory.Counts{"iron": 5}, balance)
	})
}

func TestDeductThenCreditRestoresExactly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		before := inventory.Counts{"iron": 15, "oak": 4, "emberstone": 1}
		seed(t, l, "u1", before)

		consumed := inventory.Counts{"iron": 15, "oak": 1}
		_, err := l.CheckAndDeduct(ctx, "u1", consumed)
		require.NoError(t, err)

		restored, err := l.Credit(ctx, "u1", consumed)
		require.NoError(t, err)
		assert.Equal(t, before, restored)

		balance, err := l.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, before, balance)
	})
}

func TestUnknownOwnerHoldsNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		balance, err := l.Balance(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, balance)

		_, err = l.CheckAndDeduct(ctx, "ghost", inventory.Counts{"iron": 1})
		var insufficient *InsufficientMaterialError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 0, insufficient.Available)
	})
}

func TestRejectsInvalidQuantities(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		_, err := l.CheckAndDeduct(ctx, "u1", inventory.Counts{"iron": 0})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		_, err = l.Credit(ctx, "u1", inventory.Counts{"iron": -3})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		_, err = l.Credit(ctx, "", inventory.Counts{"iron": 1})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})
}

func TestOwnersAreIndependent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		seed(t, l, "u1", inventory.Counts{"iron": 15})
		seed(t, l, "u2", inventory.Counts{"iron": 15})

		_, err := l.CheckAndDeduct(ctx, "u1", inventory.Counts{"iron": 15})
		require.NoError(t, err)

		balance, err := l.Balance(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, inventory.Counts{"iron": 15}, balance)
	})
}

func TestConcurrentDeductNeverOverspends(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		seed(t, l, "u1", inventory.Counts{"iron": 100})

		var committed, rejected atomic.Int32
		var g errgroup.Group
		for i := 0; i < 20; i++ {
			g.Go(func() error {
				_, err := l.CheckAndDeduct(ctx, "u1", inventory.Counts{"iron": 15})
				var insufficient *InsufficientMaterialError
				switch {
				case err == nil:
					committed.Add(1)
				case errors.As(err, &insufficient):
					rejected.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(6), committed.Load())
		assert.Equal(t, int32(14), rejected.Load())
		balance, err := l.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, inventory.Counts{"iron": 10}, balance)
	})
}

func TestClosedLedger(t *testing.T) {
	l := NewMemory()
	require.NoError(t, l.Close())
	_, err := l.Credit(context.Background(), "u1", inventory.Counts{"iron": 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOwnerLocksAreReleased(t *testing.T) {
	locks := newOwnerLocks()
	unlock := locks.lock("u1")
	assert.Equal(t, 1, locks.held())
	unlock()
	assert.Equal(t, 0, locks.held())
}

func TestPlanDeductDoesNotMutateInput(t *testing.T) {
	current := inventory.Counts{"iron": 3}
	next, err := planDeduct(current, inventory.Counts{"iron": 3})
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, inventory.Counts{"iron": 3}, current)
}
