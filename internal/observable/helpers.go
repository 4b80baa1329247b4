package observable

import "context"

// Of emits values in order, then completes.
func Of[T any](values ...T) *Observable[T] {
	return New(func(s *Subscriber[T]) func() {
		for _, v := range values {
			if s.Closed() {
				return nil
			}
			s.Next(v)
		}
		s.Complete()
		return nil
	})
}

// Fail terminates immediately with err.
func Fail[T any](err error) *Observable[T] {
	return New(func(s *Subscriber[T]) func() {
		s.Error(err)
		return nil
	})
}

// Empty completes without emitting.
func Empty[T any]() *Observable[T] {
	return New(func(s *Subscriber[T]) func() {
		s.Complete()
		return nil
	})
}

// Collect subscribes to obs and blocks until it terminates or ctx is done.
// It returns every value received together with the terminal error. When
// ctx ends first it unsubscribes and returns ctx.Err().
func Collect[T any](ctx context.Context, obs *Observable[T]) ([]T, error) {
	type outcome struct {
		values []T
		err    error
	}
	done := make(chan outcome, 1)
	var values []T
	sub := obs.Subscribe(Funcs[T]{
		OnNext:     func(v T) { values = append(values, v) },
		OnError:    func(err error) { done <- outcome{values: values, err: err} },
		OnComplete: func() { done <- outcome{values: values} },
	})
	select {
	case out := <-done:
		return out.values, out.err
	case <-ctx.Done():
		sub.Unsubscribe()
		return nil, ctx.Err()
	}
}
