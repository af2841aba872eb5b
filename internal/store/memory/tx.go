package memory

import (
	"context"
)

type txKey struct{}

// txState is the undo journal of one in-memory transaction. Entries run in
// reverse order when the transaction fails.
type txState struct {
	undo []func()
}

func (t *txState) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// WithTransaction holds the store write lock for the whole of fn so every
// repository call inside it is serialized against other writers. Repository
// methods see the marked ctx and skip their own locking. A nested call joins
// the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := &txState{}
	ctx = context.WithValue(ctx, txKey{}, state)
	defer func() {
		if p := recover(); p != nil {
			state.rollback()
			panic(p)
		}
		if err != nil {
			state.rollback()
		}
	}()
	return fn(ctx)
}

func txFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(txKey{}).(*txState)
	return state
}

func (s *Store) rlock(ctx context.Context) func() {
	if txFrom(ctx) != nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) wlock(ctx context.Context) func() {
	if txFrom(ctx) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// remember journals the current value of m[key] so a failed transaction can
// put it back.
func remember[K comparable, V any](ctx context.Context, m map[K]V, key K) {
	state := txFrom(ctx)
	if state == nil {
		return
	}
	prev, existed := m[key]
	state.undo = append(state.undo, func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	})
}

// rememberLen journals the length of an append-only slice.
func rememberLen[T any](ctx context.Context, list *[]T) {
	state := txFrom(ctx)
	if state == nil {
		return
	}
	n := len(*list)
	state.undo = append(state.undo, func() {
		*list = (*list)[:n]
	})
}
