package httplink

import (
	"fmt"

	"github.com/hanpama/gqlink/internal/link"
)

// ServerError reports a response with a non-2xx status code. Result holds
// the decoded body when it was a GraphQL response.
type ServerError struct {
	StatusCode int
	Body       []byte
	Result     *link.Result
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("httplink: response not successful: received status code %d", e.StatusCode)
}

// ServerParseError reports a body that is not a GraphQL JSON response.
type ServerParseError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *ServerParseError) Error() string {
	return fmt.Sprintf("httplink: could not parse response body (status %d): %v", e.StatusCode, e.Err)
}

func (e *ServerParseError) Unwrap() error { return e.Err }
