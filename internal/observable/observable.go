// Package observable implements a cold, push-based lazy sequence with
// explicit subscribe/unsubscribe.
//
// Nothing runs until Subscribe is called. Each Subscribe runs the setup
// function once; the cleanup it returns runs exactly once, either when the
// sequence terminates (Error or Complete) or when the subscription is
// cancelled, whichever happens first. Values are delivered synchronously in
// whatever goroutine the producer uses; no buffering is introduced.
package observable

import (
	"sync"
	"sync/atomic"
)

// Observer receives the events of a sequence.
type Observer[T any] interface {
	Next(T)
	Error(error)
	Complete()
}

// Funcs adapts optional callbacks to an Observer. Nil callbacks ignore the event.
type Funcs[T any] struct {
	OnNext     func(T)
	OnError    func(error)
	OnComplete func()
}

func (f Funcs[T]) Next(v T) {
	if f.OnNext != nil {
		f.OnNext(v)
	}
}

func (f Funcs[T]) Error(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

func (f Funcs[T]) Complete() {
	if f.OnComplete != nil {
		f.OnComplete()
	}
}

// Observable is a cold sequence of T.
type Observable[T any] struct {
	setup func(*Subscriber[T]) func()
}

// New creates an Observable. setup runs once per subscription and may return
// a cleanup function (nil is allowed).
func New[T any](setup func(*Subscriber[T]) func()) *Observable[T] {
	return &Observable[T]{setup: setup}
}

// Subscribe starts the sequence and delivers its events to o.
func (obs *Observable[T]) Subscribe(o Observer[T]) *Subscription {
	if o == nil {
		o = Funcs[T]{}
	}
	s := &Subscriber[T]{observer: o}
	sub := &Subscription{release: s.close, closed: s.Closed}
	if obs.setup == nil {
		return sub
	}
	cleanup := obs.setup(s)
	s.setCleanup(cleanup)
	return sub
}

// Subscriber is the producer side of a subscription. It drops events after
// termination or cancellation.
type Subscriber[T any] struct {
	observer Observer[T]
	closed   atomic.Bool

	mu        sync.Mutex
	cleanup   func()
	cleanedUp bool
}

// Next delivers v unless the subscriber is closed.
func (s *Subscriber[T]) Next(v T) {
	if s.closed.Load() {
		return
	}
	s.observer.Next(v)
}

// Error terminates the sequence with err.
func (s *Subscriber[T]) Error(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	defer s.runCleanup()
	s.observer.Error(err)
}

// Complete terminates the sequence normally.
func (s *Subscriber[T]) Complete() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	defer s.runCleanup()
	s.observer.Complete()
}

// Closed reports whether the sequence has terminated or been cancelled.
// Producers use it to stop work early.
func (s *Subscriber[T]) Closed() bool { return s.closed.Load() }

func (s *Subscriber[T]) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.runCleanup()
}

// setCleanup records the cleanup returned by setup. If the subscriber was
// already closed while setup was running, cleanup runs right away.
func (s *Subscriber[T]) setCleanup(cleanup func()) {
	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		if cleanup != nil {
			cleanup()
		}
		return
	}
	s.cleanup = cleanup
	closed := s.closed.Load()
	s.mu.Unlock()
	if closed {
		s.runCleanup()
	}
}

func (s *Subscriber[T]) runCleanup() {
	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		return
	}
	fn := s.cleanup
	if fn == nil {
		// setup has not returned yet; setCleanup will run it.
		s.mu.Unlock()
		return
	}
	s.cleanedUp = true
	s.cleanup = nil
	s.mu.Unlock()
	fn()
}

// Subscription is the consumer handle of a running sequence.
type Subscription struct {
	once    sync.Once
	release func()
	closed  func() bool
}

// Unsubscribe cancels the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.release)
}

// Closed reports whether the subscription was cancelled or its sequence
// has terminated.
func (s *Subscription) Closed() bool { return s.closed() }
