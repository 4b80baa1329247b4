package language

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type (
	QueryDocument       = ast.QueryDocument
	OperationDefinition = ast.OperationDefinition
	Position            = ast.Position
	Operation           = ast.Operation
)

// Error is a GraphQL error as it appears in a response "errors" entry.
type Error = gqlerror.Error

// ErrorList is the ordered "errors" entry of a response.
type ErrorList = gqlerror.List

type Location = gqlerror.Location

const (
	Query        Operation = ast.Query
	Mutation     Operation = ast.Mutation
	Subscription Operation = ast.Subscription
)
