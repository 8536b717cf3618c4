package engine

import (
	"context"
	"sync"

	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/types"
)

// ledger is the run-scoped view of the classification state: the snapshot
// loaded at run start plus everything appended during the run. All writes to
// the store go through it so concurrent clusters never append a target twice.
type ledger struct {
	mu    sync.Mutex
	st    store.Store
	known map[string]types.Class
}

func newLedger(ctx context.Context, st store.Store) (*ledger, error) {
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &ledger{st: st, known: snap}, nil
}

// processed reports whether target already carries any classification.
func (l *ledger) processed(target string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.known[target]
	return ok
}

// record appends target under class unless it is already recorded with the
// same class or already banned. It returns false when nothing was written.
func (l *ledger) record(ctx context.Context, class types.Class, target string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.known[target]; ok && (prev == class || prev == types.ClassBanned) {
		return false, nil
	}
	if err := l.st.Append(ctx, class, target); err != nil {
		return false, err
	}
	if prev, ok := l.known[target]; !ok || class > prev {
		l.known[target] = class
	}
	return true, nil
}
