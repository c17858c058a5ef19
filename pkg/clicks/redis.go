// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package clicks

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	pendingHash = "adclicks:pending" // linkID -> pending click count
	adHash      = "adclicks:ad"      // linkID -> owning ad id
)

// decrAndClean decrements a pending cell and removes it once empty. Runs
// as a single script so a click landing between the decrement and the
// delete is never lost.
var decrAndClean = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], ARGV[1], -ARGV[2])
if v <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
end
return v
`)

// RedisStore is a redis-backed click accumulator shared by every click
// endpoint replica.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates an accumulator on an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Increment(ctx context.Context, adID, linkID uint64) error {
	field := strconv.FormatUint(linkID, 10)

	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, pendingHash, field, 1)
	pipe.HSetNX(ctx, adHash, field, strconv.FormatUint(adID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DrainPending(ctx context.Context) ([]Pending, error) {
	counts, err := s.rdb.HGetAll(ctx, pendingHash).Result()
	if err != nil {
		return nil, err
	}
	adOwners, err := s.rdb.HGetAll(ctx, adHash).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Pending, 0, len(counts))
	for field, raw := range counts {
		count, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || count == 0 {
			continue
		}
		linkID, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		adID, _ := strconv.ParseUint(adOwners[field], 10, 64)
		out = append(out, Pending{AdID: adID, LinkID: linkID, Count: count})
	}
	return out, nil
}

func (s *RedisStore) ConfirmConsumed(ctx context.Context, consumed []Pending) error {
	for _, p := range consumed {
		field := strconv.FormatUint(p.LinkID, 10)
		if err := decrAndClean.Run(ctx, s.rdb,
			[]string{pendingHash, adHash},
			field, strconv.FormatUint(p.Count, 10),
		).Err(); err != nil {
			return err
		}
	}
	return nil
}
