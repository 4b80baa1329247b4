package link

import (
	"context"

	language "github.com/hanpama/gqlink/internal/language"
)

// Operation describes one GraphQL request flowing through a chain.
// Links pass it along by pointer; they must not modify it.
type Operation struct {
	Query         string
	OperationName string
	Variables     map[string]any
	Extensions    map[string]any

	ctx context.Context
}

type OperationOption func(*Operation)

func WithOperationName(name string) OperationOption {
	return func(o *Operation) { o.OperationName = name }
}

func WithVariables(vars map[string]any) OperationOption {
	return func(o *Operation) { o.Variables = vars }
}

func WithExtensions(ext map[string]any) OperationOption {
	return func(o *Operation) { o.Extensions = ext }
}

// NewOperation creates an operation for query bound to ctx.
func NewOperation(ctx context.Context, query string, opts ...OperationOption) *Operation {
	op := &Operation{Query: query, ctx: ctx}
	for _, f := range opts {
		f(op)
	}
	return op
}

// Context returns the operation context. It is never nil.
func (o *Operation) Context() context.Context {
	if o.ctx == nil {
		return context.Background()
	}
	return o.ctx
}

// WithContext returns a shallow copy of o bound to ctx.
func (o *Operation) WithContext(ctx context.Context) *Operation {
	cp := *o
	cp.ctx = ctx
	return &cp
}

// Type reports the GraphQL operation type of the document. Documents that
// fail to parse are treated as queries; the server reports the syntax error.
func (o *Operation) Type() language.Operation {
	typ, _, err := language.OperationInfo(o.Query, o.OperationName)
	if err != nil {
		return language.Query
	}
	return typ
}

// IsSubscription reports whether op is a subscription. It is meant as the
// test of Split.
func IsSubscription(op *Operation) bool {
	return op.Type() == language.Subscription
}
