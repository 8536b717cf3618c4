// Package queue carries ban decisions from the engine to the enforcer.
package queue

import (
	"context"
	"time"

	"github.com/gustycube/baxter/internal/types"
)

// Item is one leased decision together with how often enforcing it failed.
type Item struct {
	Decision types.Decision `json:"decision"`
	Attempt  int            `json:"attempt"`
}

// Queue is a work queue with lease and acknowledge semantics. Lease returns a
// zero Item and a no-op ack when nothing arrives within wait.
type Queue interface {
	Publish(ctx context.Context, d types.Decision) error
	Requeue(ctx context.Context, it Item) error
	Lease(ctx context.Context, wait time.Duration) (Item, func() error, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

func noAck() error { return nil }
