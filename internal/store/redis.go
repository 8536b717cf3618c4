package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gustycube/baxter/internal/types"
)

// Redis keeps every set as a list (append order) and the watchlist as a list
// plus a hash of per-block occurrence counts.
type Redis struct {
	cli    *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := cli.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	if prefix == "" {
		prefix = "baxter"
	}
	return &Redis{cli: cli, prefix: prefix}, nil
}

func (r *Redis) classKey(class types.Class) string { return r.prefix + ":" + class.String() }
func (r *Redis) watchKey() string                  { return r.prefix + ":watchlist" }
func (r *Redis) watchCountKey() string             { return r.prefix + ":watchlist:count" }

func (r *Redis) Snapshot(ctx context.Context) (map[string]types.Class, error) {
	out := make(map[string]types.Class)
	for _, class := range types.Classes {
		targets, err := r.cli.LRange(ctx, r.classKey(class), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", class, err)
		}
		for _, t := range targets {
			merge(out, class, t)
		}
	}
	return out, nil
}

func (r *Redis) Append(ctx context.Context, class types.Class, target string) error {
	if err := validClass(class); err != nil {
		return err
	}
	return r.cli.RPush(ctx, r.classKey(class), target).Err()
}

func (r *Redis) List(ctx context.Context, class types.Class) ([]string, error) {
	if err := validClass(class); err != nil {
		return nil, err
	}
	return r.cli.LRange(ctx, r.classKey(class), 0, -1).Result()
}

func (r *Redis) AppendWatch(ctx context.Context, notation string) (int, error) {
	pipe := r.cli.TxPipeline()
	pipe.RPush(ctx, r.watchKey(), notation)
	incr := pipe.HIncrBy(ctx, r.watchCountKey(), notation, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (r *Redis) Watchlist(ctx context.Context) ([]string, error) {
	return r.cli.LRange(ctx, r.watchKey(), 0, -1).Result()
}

func (r *Redis) ResetDaily(ctx context.Context) error {
	keys := make([]string, 0, len(types.Classes))
	for _, class := range types.Classes {
		keys = append(keys, r.classKey(class))
	}
	return r.cli.Del(ctx, keys...).Err()
}

func (r *Redis) ResetWeekly(ctx context.Context) error {
	return r.cli.Del(ctx, r.watchKey(), r.watchCountKey()).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.cli.Close()
}
