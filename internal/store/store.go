// Package store persists the classification state: the allowed, flagged and
// banned sets plus the watchlist of flagged blocks.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gustycube/baxter/internal/types"
)

// ErrUnknownClass is returned when appending under a class that has no set.
var ErrUnknownClass = errors.New("unknown classification class")

// Store is an append-only set store. Every implementation is safe for
// concurrent use.
type Store interface {
	// Snapshot returns every classified target. A target recorded under
	// several classes maps to the highest one (banned over flagged over allowed).
	Snapshot(ctx context.Context) (map[string]types.Class, error)
	// Append records target under class.
	Append(ctx context.Context, class types.Class, target string) error
	// List returns the targets of one class in the order they were appended.
	List(ctx context.Context, class types.Class) ([]string, error)
	// AppendWatch logs one occurrence of a flagged block and returns how many
	// occurrences that block has accumulated since the last weekly reset.
	AppendWatch(ctx context.Context, notation string) (int, error)
	// Watchlist returns the watchlist log in append order.
	Watchlist(ctx context.Context) ([]string, error)
	// ResetDaily clears the three classification sets.
	ResetDaily(ctx context.Context) error
	// ResetWeekly clears the watchlist.
	ResetWeekly(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Kind        string
	Dir         string
	RedisAddr   string
	RedisPrefix string
	DSN         string
}

// Open builds the backend named by opts.Kind.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return OpenFile(filepath.Clean(opts.Dir))
	case "redis":
		return NewRedis(ctx, opts.RedisAddr, opts.RedisPrefix)
	case "sql":
		return OpenSQL(opts.DSN)
	}
	return nil, fmt.Errorf("unknown store kind %q", opts.Kind)
}

// merge folds class into m for target, keeping the highest class.
func merge(m map[string]types.Class, class types.Class, target string) {
	if prev, ok := m[target]; !ok || class > prev {
		m[target] = class
	}
}

func validClass(class types.Class) error {
	switch class {
	case types.ClassAllowed, types.ClassFlagged, types.ClassBanned:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownClass, class)
}
