/*
feed.go - Reactive read streams over a store

PURPOSE:
  The collaborating stores expose "reactive subscriptions": a reader gets the
  current result set and a fresh one every time the underlying data changes.
  Feed is the change signal a store raises after each successful write; Watch
  turns that signal into a stream of re-queried snapshots.

COALESCING:
  Each subscriber has a one-slot signal buffer. Several writes landing while
  a reader is busy collapse into one re-query, so a reader always sees the
  latest state and never a backlog.

USAGE:
  updates := generic.Watch(ctx, store.leaveFeed, func(ctx context.Context) ([]leave.Record, error) {
      return store.ListLeaves(ctx, filter)
  })
  for u := range updates {
      if u.Err != nil { ... }
      recompute(u.Items)
  }

SEE ALSO:
  - store/sqlite/sqlite.go, store/memory/memory.go: publish after writes
  - payroll/live.go: joins three streams into one aggregation
*/
package generic

import (
	"context"
	"sync"
)

// Update is one snapshot pushed by a Watch stream.
type Update[T any] struct {
	Items []T
	Err   error
}

// Feed fans a change signal out to subscribers.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan struct{})}
}

// Subscribe registers a subscriber. The returned func unsubscribes.
func (f *Feed) Subscribe() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan struct{}, 1)
	f.subs[id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Publish signals every subscriber without blocking.
func (f *Feed) Publish() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch emits load's result immediately and again after every Publish on
// feed, until ctx is done. The returned channel is closed on exit.
func Watch[T any](ctx context.Context, feed *Feed, load func(context.Context) ([]T, error)) <-chan Update[T] {
	signal, unsubscribe := feed.Subscribe()
	out := make(chan Update[T])

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			items, err := load(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Update[T]{Items: items, Err: err}:
			case <-ctx.Done():
				return
			}

			select {
			case <-signal:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
