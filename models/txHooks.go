package models

import (
	"context"
	"sync"

	"github.com/opsbridge/incidents_backend/config"
	"gorm.io/gorm"
)

// Commit hooks give intake its "enqueue after commit" ordering: publishing a
// work item before the transaction commits would let a consumer observe a
// workflow run id that is not yet visible outside the transaction.
//
// Hooks run only when the transaction commits. Hook failures are logged and
// swallowed: the commit already succeeded and cannot be undone, so the run is
// left for the requeue sweeper (or manual replay) to pick up.

type commitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

type commitHooksKey struct{}

func (h *commitHooks) add(fn func(ctx context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *commitHooks) run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ctx)
	}
}

// TransactionWithHooks runs fn inside a gorm transaction and then runs any
// hooks registered during fn, but only if the transaction committed.
func TransactionWithHooks(ctx context.Context, db *gorm.DB, fn func(ctx context.Context, tx *gorm.DB) error) error {
	hooks := &commitHooks{}
	hookCtx := context.WithValue(ctx, commitHooksKey{}, hooks)

	err := db.WithContext(hookCtx).Transaction(func(tx *gorm.DB) error {
		return fn(hookCtx, tx)
	})
	if err != nil {
		return err
	}

	hooks.run(hookCtx)
	return nil
}

// RegisterCommitHook schedules fn to run after the enclosing
// TransactionWithHooks commits. Outside such a transaction fn runs
// immediately; callers must not rely on commit ordering in that case.
func RegisterCommitHook(ctx context.Context, fn func(ctx context.Context)) {
	hooks, ok := ctx.Value(commitHooksKey{}).(*commitHooks)
	if !ok {
		config.GetLogger().Warn("commit hook registered outside a hooked transaction; running inline")
		fn(ctx)
		return
	}
	hooks.add(fn)
}
