package wslink

import (
	"errors"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

var (
	// ErrAckTimeout indicates the server did not acknowledge connection_init in time.
	ErrAckTimeout = errors.New("wslink: timed out waiting for connection_ack")
)

// SubscriptionError is the payload of an "error" message: the server
// rejected the operation before or while executing it. It terminates the
// subscription.
type SubscriptionError struct {
	Errors gqlerror.List
}

func (e *SubscriptionError) Error() string {
	return "wslink: subscription error: " + e.Errors.Error()
}
