package errorlink

import (
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/hanpama/gqlink/internal/link"
)

// ErrorResponse is what a Handler receives. It is either *GraphQLErrors or
// *NetworkError.
type ErrorResponse interface {
	error
	// Operation is the operation the error belongs to, exactly as it was
	// passed to the link.
	Operation() *link.Operation

	errorResponse()
}

// GraphQLErrors reports a result that carried a non-empty "errors" entry.
// The result itself is still delivered to the subscriber.
type GraphQLErrors struct {
	Op       *link.Operation
	Errors   gqlerror.List
	Response *link.Result
}

func (e *GraphQLErrors) Operation() *link.Operation { return e.Op }
func (e *GraphQLErrors) Error() string              { return e.Errors.Error() }
func (*GraphQLErrors) errorResponse()               {}

// NetworkError reports a failure that terminated the operation.
type NetworkError struct {
	Op  *link.Operation
	Err error
}

func (e *NetworkError) Operation() *link.Operation { return e.Op }
func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "network error"
	}
	return e.Err.Error()
}
func (e *NetworkError) Unwrap() error { return e.Err }
func (*NetworkError) errorResponse()  {}
