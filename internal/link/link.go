// Package link defines the request chain a GraphQL client sends operations
// through.
//
// A Link receives an Operation and a forward function that runs the rest of
// the chain, and returns a lazy Observable of results. Middleware links call
// forward and transform or observe its results; terminating links (the
// transports) ignore forward and produce results themselves. Nothing runs
// until the observable returned by Execute is subscribed.
package link

import (
	"errors"

	"github.com/hanpama/gqlink/internal/observable"
	"github.com/hanpama/gqlink/internal/opid"
)

var (
	// ErrNilObservable is reported when a link returns no observable.
	ErrNilObservable = errors.New("link: nil observable")
)

// NextLink runs the remainder of the chain for op.
type NextLink func(op *Operation) *observable.Observable[*Result]

// Link is one stage of the chain.
type Link interface {
	Request(op *Operation, forward NextLink) *observable.Observable[*Result]
}

// RequestHandler adapts a function to the Link interface.
type RequestHandler func(op *Operation, forward NextLink) *observable.Observable[*Result]

func (f RequestHandler) Request(op *Operation, forward NextLink) *observable.Observable[*Result] {
	return f(op, forward)
}

// Empty returns a link whose results complete immediately.
func Empty() Link {
	return RequestHandler(func(*Operation, NextLink) *observable.Observable[*Result] {
		return observable.Empty[*Result]()
	})
}

// Concat runs first with second as its forward.
func Concat(first, second Link) Link {
	return RequestHandler(func(op *Operation, forward NextLink) *observable.Observable[*Result] {
		return first.Request(op, func(op *Operation) *observable.Observable[*Result] {
			return orEmpty(second.Request(op, forward))
		})
	})
}

// From composes links left to right. From() is Empty().
func From(links ...Link) Link {
	if len(links) == 0 {
		return Empty()
	}
	l := links[len(links)-1]
	for i := len(links) - 2; i >= 0; i-- {
		l = Concat(links[i], l)
	}
	return l
}

// Split routes each operation to left when test reports true and to right
// otherwise. A nil right link behaves like Empty().
func Split(test func(*Operation) bool, left, right Link) Link {
	if right == nil {
		right = Empty()
	}
	return RequestHandler(func(op *Operation, forward NextLink) *observable.Observable[*Result] {
		if test(op) {
			return left.Request(op, forward)
		}
		return right.Request(op, forward)
	})
}

// Execute runs op through l. The last link's forward yields no results.
//
// When the context of op carries no operation ID, the links receive a
// shallow copy of op bound to a context with a new ID, so the *Operation
// they see (and report back, e.g. in error responses) is not op itself.
// Callers relying on pointer identity put an ID in the context first with
// opid.NewContext.
func Execute(l Link, op *Operation) *observable.Observable[*Result] {
	if _, ok := opid.FromContext(op.Context()); !ok {
		ctx, _ := opid.NewContext(op.Context())
		op = op.WithContext(ctx)
	}
	return orEmpty(l.Request(op, terminal))
}

func terminal(*Operation) *observable.Observable[*Result] {
	return observable.Empty[*Result]()
}

func orEmpty(obs *observable.Observable[*Result]) *observable.Observable[*Result] {
	if obs == nil {
		return observable.Empty[*Result]()
	}
	return obs
}
