// Package errorlink provides a link that reports GraphQL and network errors
// to a handler while passing every result and failure through unchanged.
//
// Results whose "errors" entry is non-empty produce a *GraphQLErrors
// response; a failure of the downstream chain, or a panic raised while
// starting it, produces a *NetworkError. The handler runs before the event
// reaches the subscriber. The link never retries, swallows or rewrites
// anything.
package errorlink

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hanpama/gqlink/internal/link"
	"github.com/hanpama/gqlink/internal/observable"
)

// Handler receives intercepted errors. It is called synchronously by the
// goroutine delivering the event and may run concurrently for distinct
// operations.
type Handler func(ErrorResponse)

// OnError returns a link that reports errors to h.
func OnError(h Handler) link.Link {
	return link.RequestHandler(func(op *link.Operation, forward link.NextLink) *observable.Observable[*link.Result] {
		return observable.New(func(s *observable.Subscriber[*link.Result]) func() {
			sub, err := subscribe(op, forward, &interceptor{op: op, h: h, s: s})
			if err != nil {
				if s.Closed() {
					// the downstream terminated before it panicked
					return nil
				}
				h(&NetworkError{Op: op, Err: err})
				s.Error(err)
				return nil
			}
			return sub.Unsubscribe
		})
	})
}

// ErrorLink is the value form of OnError.
type ErrorLink struct {
	link link.Link
}

// New returns an ErrorLink reporting to h.
func New(h Handler) *ErrorLink {
	return &ErrorLink{link: OnError(h)}
}

// Request delegates to the link built by OnError.
func (l *ErrorLink) Request(op *link.Operation, forward link.NextLink) *observable.Observable[*link.Result] {
	return l.link.Request(op, forward)
}

// Ensure we satisfy link.Link
var _ link.Link = (*ErrorLink)(nil)

// subscribe starts the downstream chain. A panic raised by forward or by
// the downstream subscription is returned as an error. Panics raised while
// an event is delivered synchronously (by the handler or the subscriber)
// are re-raised unchanged, also through the error links stacked above.
func subscribe(op *link.Operation, forward link.NextLink, i *interceptor) (sub *observable.Subscription, err error) {
	enterGuard(op)
	defer func() {
		outermost := leaveGuard(op)
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(escapedPanic); ok {
			r = e.v
		} else if !i.escaping.Load() {
			err = panicError(r)
			return
		}
		if outermost {
			panic(r)
		}
		panic(escapedPanic{v: r})
	}()
	obs := forward(op)
	if obs == nil {
		return nil, link.ErrNilObservable
	}
	return obs.Subscribe(i), nil
}

// escapedPanic carries a delivery panic from an inner error link through
// the guards of the error links above it. The outermost guard re-raises
// the original value.
type escapedPanic struct {
	v any
}

// guards counts the subscribe calls in progress per operation. Stacked
// error links forward the same operation, so the count tells a guard
// whether another error link encloses it.
var (
	guardsMu sync.Mutex
	guards   = map[*link.Operation]int{}
)

func enterGuard(op *link.Operation) {
	guardsMu.Lock()
	guards[op]++
	guardsMu.Unlock()
}

// leaveGuard reports whether the last guard for op was left.
func leaveGuard(op *link.Operation) bool {
	guardsMu.Lock()
	defer guardsMu.Unlock()
	guards[op]--
	if guards[op] > 0 {
		return false
	}
	delete(guards, op)
	return true
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("errorlink: panic: %v", r)
}

// interceptor observes the downstream results for one operation.
type interceptor struct {
	op *link.Operation
	h  Handler
	s  *observable.Subscriber[*link.Result]

	escaping atomic.Bool
}

func (i *interceptor) Next(res *link.Result) {
	if i.s.Closed() {
		return
	}
	if res != nil && len(res.Errors) > 0 {
		i.deliver(func() { i.h(&GraphQLErrors{Op: i.op, Errors: res.Errors, Response: res}) })
	}
	i.deliver(func() { i.s.Next(res) })
}

func (i *interceptor) Error(err error) {
	if i.s.Closed() {
		return
	}
	i.deliver(func() { i.h(&NetworkError{Op: i.op, Err: err}) })
	i.deliver(func() { i.s.Error(err) })
}

func (i *interceptor) Complete() {
	i.deliver(i.s.Complete)
}

// deliver runs fn and flags any panic it raises as escaping, so that
// subscribe does not mistake it for a failure to start the chain.
func (i *interceptor) deliver(fn func()) {
	ok := false
	defer func() {
		if !ok {
			i.escaping.Store(true)
		}
	}()
	fn()
	ok = true
}
