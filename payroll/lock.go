package payroll

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/payroll-engine/generic"
)

// RunLock keeps two commits for the same month from running at once.
// Acquire returns generic.ErrRunInProgress when the key is already held;
// the returned release func is safe to call once.
type RunLock interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// RunLockKey is the lock key for a month's disbursement.
func RunLockKey(month generic.MonthKey) string {
	return "payroll:run:" + month.String()
}

// LocalLock is a RunLock for a single process.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]struct{})}
}

func (l *LocalLock) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, generic.ErrRunInProgress)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
