package mention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis stores one key per (room, name) with a TTL and a per-room sorted set
// scored by last-seen time. The set is trimmed to MaxEntries, oldest first.
type Redis struct {
	rdb    redis.UniversalClient
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewRedis(rdb redis.UniversalClient, opts Options, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, opts: opts.withDefaults(), logger: logger, now: time.Now}
}

func (r *Redis) keyEntry(room, name string) string { return "mention:" + room + ":" + name }
func (r *Redis) keyIndex(room string) string       { return "mention:" + room + ":_index" }

func (r *Redis) Remember(ctx context.Context, room, name, userID string) error {
	name = NormalizeName(name)
	if room == "" || name == "" || userID == "" {
		return nil
	}
	idx := r.keyIndex(room)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.keyEntry(room, name), userID, r.opts.TTL)
		p.ZAdd(ctx, idx, redis.Z{Score: float64(r.now().Unix()), Member: name})
		p.Expire(ctx, idx, r.opts.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remember mention: %w", err)
	}
	return r.trim(ctx, room)
}

// trim evicts the oldest names beyond MaxEntries.
func (r *Redis) trim(ctx context.Context, room string) error {
	idx := r.keyIndex(room)
	n, err := r.rdb.ZCard(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("mention index size: %w", err)
	}
	excess := n - int64(r.opts.MaxEntries)
	if excess <= 0 {
		return nil
	}
	evicted, err := r.rdb.ZPopMin(ctx, idx, excess).Result()
	if err != nil {
		return fmt.Errorf("mention evict: %w", err)
	}
	keys := make([]string, 0, len(evicted))
	for _, z := range evicted {
		if name, ok := z.Member.(string); ok {
			keys = append(keys, r.keyEntry(room, name))
		}
	}
	if len(keys) > 0 {
		if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("mention evict: %w", err)
		}
	}
	r.logger.Debug("mention_evicted", zap.String("room", room), zap.Int("count", len(keys)))
	return nil
}

func (r *Redis) Resolve(ctx context.Context, room, name string) (string, bool, error) {
	name = NormalizeName(name)
	if name == "" {
		return "", false, nil
	}
	id, err := r.rdb.Get(ctx, r.keyEntry(room, name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve mention: %w", err)
	}
	return id, true, nil
}
