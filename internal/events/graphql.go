package events

import "github.com/vektah/gqlparser/v2/gqlerror"

// GraphQLErrors is emitted when a result carrying GraphQL errors passes
// through the error link.
type GraphQLErrors struct {
	OperationName string
	OperationType string
	Errors        gqlerror.List
}

// NetworkError is emitted when the error link observes a terminal failure.
type NetworkError struct {
	OperationName string
	OperationType string
	Err           error
}
