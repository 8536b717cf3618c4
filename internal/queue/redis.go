package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gustycube/baxter/internal/types"
)

// Redis keeps pending decisions in a list and moves each leased one to a
// processing list until it is acknowledged, so a crashed enforcer loses
// nothing: Recover puts the processing list back on the queue.
type Redis struct {
	cli      *redis.Client
	queueKey string
	procKey  string
}

func NewRedis(ctx context.Context, addr, key string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{cli: cli, queueKey: key, procKey: key + ":processing"}, nil
}

func (q *Redis) Publish(ctx context.Context, d types.Decision) error {
	return q.Requeue(ctx, Item{Decision: d})
}

func (q *Redis) Requeue(ctx context.Context, it Item) error {
	b, err := json.Marshal(it)
	if err != nil {
		return err
	}
	return q.cli.LPush(ctx, q.queueKey, string(b)).Err()
}

func (q *Redis) Lease(ctx context.Context, wait time.Duration) (Item, func() error, error) {
	var (
		res string
		err error
	)
	if wait <= 0 {
		res, err = q.cli.RPopLPush(ctx, q.queueKey, q.procKey).Result()
	} else {
		res, err = q.cli.BRPopLPush(ctx, q.queueKey, q.procKey, wait).Result()
	}
	if errors.Is(err, redis.Nil) {
		return Item{}, noAck, nil
	}
	if err != nil {
		return Item{}, noAck, err
	}
	ack := func() error {
		return q.cli.LRem(context.WithoutCancel(ctx), q.procKey, 1, res).Err()
	}
	var it Item
	if err := json.Unmarshal([]byte(res), &it); err != nil {
		// drop the unreadable entry rather than lease it forever
		_ = ack()
		return Item{}, noAck, err
	}
	return it, ack, nil
}

// Recover moves entries left in the processing list back onto the queue and
// returns how many were moved.
func (q *Redis) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.cli.RPopLPush(ctx, q.procKey, q.queueKey).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.cli.LLen(ctx, q.queueKey).Result()
	return int(n), err
}

func (q *Redis) Ping(ctx context.Context) error {
	return q.cli.Ping(ctx).Err()
}

func (q *Redis) Close() error {
	return q.cli.Close()
}
