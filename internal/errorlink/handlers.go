package errorlink

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/gqlerror"

	eventbus "github.com/hanpama/gqlink/internal/eventbus"
	events "github.com/hanpama/gqlink/internal/events"
	"github.com/hanpama/gqlink/internal/language"
	"github.com/hanpama/gqlink/internal/link"
)

// Handlers returns a Handler calling each non-nil h in order.
func Handlers(hs ...Handler) Handler {
	return func(r ErrorResponse) {
		for _, h := range hs {
			if h != nil {
				h(r)
			}
		}
	}
}

// LogHandler logs every GraphQL error as a warning and network errors as
// errors. Entries carry the operation name, resolved from the document
// when none was given.
func LogHandler(logger logrus.FieldLogger) Handler {
	return func(r ErrorResponse) {
		entry := logger.WithField("operation", operationName(r.Operation()))
		switch r := r.(type) {
		case *GraphQLErrors:
			for _, e := range r.Errors {
				if e == nil {
					continue
				}
				entry.WithFields(logrus.Fields{
					"locations": formatLocations(e.Locations),
					"path":      e.Path.String(),
				}).Warnf("[GraphQL error]: %s", e.Message)
			}
		case *NetworkError:
			entry.WithError(r.Err).Error("[Network error]")
		}
	}
}

func operationName(op *link.Operation) string {
	if op.OperationName != "" {
		return op.OperationName
	}
	if _, name, err := language.OperationInfo(op.Query, ""); err == nil {
		return name
	}
	return ""
}

func formatLocations(locs []gqlerror.Location) string {
	parts := make([]string, len(locs))
	for i, l := range locs {
		parts[i] = fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return strings.Join(parts, ",")
}

// PublishHandler publishes events.GraphQLErrors and events.NetworkError on
// the global event bus, using the operation context.
func PublishHandler() Handler {
	return func(r ErrorResponse) {
		op := r.Operation()
		ctx := op.Context()
		switch r := r.(type) {
		case *GraphQLErrors:
			eventbus.Publish(ctx, events.GraphQLErrors{
				OperationName: op.OperationName,
				OperationType: string(op.Type()),
				Errors:        r.Errors,
			})
		case *NetworkError:
			eventbus.Publish(ctx, events.NetworkError{
				OperationName: op.OperationName,
				OperationType: string(op.Type()),
				Err:           r.Err,
			})
		}
	}
}
