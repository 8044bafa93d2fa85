package admission

import "context"

// Submit enqueues a typed operation and returns a handle the caller can
// Wait on for the eventual result (spec.md §6: `C.execute(op, opts) →
// Future<T>`).
func Submit[T any](m *Manager, op func(ctx context.Context) (T, error), opts SubmitOptions) (TypedFuture[T], error) {
	wrapped := Operation(func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	f, err := m.submit(wrapped, opts)
	if err != nil {
		return TypedFuture[T]{}, err
	}
	return TypedFuture[T]{inner: f}, nil
}
