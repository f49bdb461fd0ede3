// Package redis provides a shared usage gate in front of the rule store so
// instances reject exhausted rules without a database round trip.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

var _ discount.Repository = (*Gate)(nil)

// admitScript reserves one use atomically.
// KEYS[1] = counter key
// ARGV[1] = lifetime cap
// ARGV[2] = store count used to seed a missing counter
// ARGV[3] = counter TTL in seconds
// Returns the reserved count, or -1 when the cap is reached.
var admitScript = redis.NewScript(`
local cap = tonumber(ARGV[1])
local cur = tonumber(redis.call("GET", KEYS[1]) or ARGV[2])
if cur >= cap then
    redis.call("SET", KEYS[1], cur, "EX", ARGV[3])
    return -1
end
cur = cur + 1
redis.call("SET", KEYS[1], cur, "EX", ARGV[3])
return cur
`)

// releaseScript returns a reservation that the store did not commit.
var releaseScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]))
if cur and cur > 0 then
    return redis.call("DECR", KEYS[1])
end
return 0
`)

const defaultTTL = time.Hour

// Gate decorates a discount.Repository. IncrementUsage of capped rules is
// first admitted against a Redis counter; the inner store's conditional
// increment stays the source of truth.
type Gate struct {
	discount.Repository
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewGate wraps inner with a gate backed by client.
func NewGate(inner discount.Repository, client redis.UniversalClient) *Gate {
	return &Gate{
		Repository: inner,
		client:     client,
		prefix:     "discount:uses:",
		ttl:        defaultTTL,
	}
}

// NewClient connects to a single Redis node.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (g *Gate) key(id string) string {
	return g.prefix + id
}

// IncrementUsage admits the use in Redis, then commits it in the store.
// A store failure releases the reservation.
func (g *Gate) IncrementUsage(ctx context.Context, id string, at time.Time) (int, error) {
	rule, err := g.Repository.GetRule(ctx, id)
	if err != nil {
		return 0, err
	}
	if !rule.Limited() {
		return g.Repository.IncrementUsage(ctx, id, at)
	}

	key := g.key(id)
	res, err := admitScript.Run(ctx, g.client, []string{key},
		*rule.MaxUses, rule.CurrentUses, int(g.ttl.Seconds()),
	).Int()
	if err != nil {
		return 0, errors.Wrap(err, "admit usage")
	}
	if res < 0 {
		return 0, discount.ErrUsageLimitReached
	}

	uses, err := g.Repository.IncrementUsage(ctx, id, at)
	if err != nil {
		g.release(ctx, id)
		return 0, err
	}
	if uses != res {
		// Counter drifted from the store; resync to the committed value.
		if err := g.client.Set(ctx, key, uses, g.ttl).Err(); err != nil {
			zctx.From(ctx).Warn("Resync usage counter failed",
				zap.String("rule_id", id),
				zap.Error(err),
			)
		}
	}
	return uses, nil
}

// ReleaseUsage gives the use back to the store, then to the Redis counter.
func (g *Gate) ReleaseUsage(ctx context.Context, id string) error {
	if err := g.Repository.ReleaseUsage(ctx, id); err != nil {
		return err
	}
	g.release(ctx, id)
	return nil
}

// release returns one reservation. A missing counter is left missing and is
// reseeded from the store on the next admission.
func (g *Gate) release(ctx context.Context, id string) {
	if err := releaseScript.Run(ctx, g.client, []string{g.key(id)}).Err(); err != nil {
		zctx.From(ctx).Warn("Release usage reservation failed",
			zap.String("rule_id", id),
			zap.Error(err),
		)
	}
}

// Ping checks the Redis connection.
func (g *Gate) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
