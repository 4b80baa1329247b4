package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	eventbus "github.com/hanpama/gqlink/internal/eventbus"
	events "github.com/hanpama/gqlink/internal/events"
	opid "github.com/hanpama/gqlink/internal/opid"
)

func setup(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	t.Cleanup(Register(tp.Tracer("test")))
	return sr
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestSetup_NoEndpoint(t *testing.T) {
	shutdown, err := Setup("", "svc")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestRegister_TransportSpan(t *testing.T) {
	sr := setup(t)
	ctx, _ := opid.NewContext(context.Background())

	eventbus.Publish(ctx, events.TransportStart{
		Transport:     "http",
		Target:        "http://example.test/graphql",
		OperationName: "Hello",
		OperationType: "query",
	})
	require.Empty(t, sr.Ended())
	eventbus.Publish(ctx, events.TransportFinish{
		Transport:     "http",
		OperationName: "Hello",
		OperationType: "query",
		Status:        200,
		Results:       1,
	})

	ended := sr.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	require.Equal(t, "graphql.transport", span.Name())
	a := attrs(span)
	require.Equal(t, "Hello", a["graphql.operation.name"].AsString())
	require.Equal(t, "query", a["graphql.operation.type"].AsString())
	require.Equal(t, "http", a["gqlink.transport"].AsString())
	require.Equal(t, "http://example.test/graphql", a["net.peer.name"].AsString())
	require.Equal(t, int64(200), a["http.status_code"].AsInt64())
	require.Equal(t, int64(1), a["graphql.result_count"].AsInt64())
	require.Equal(t, codes.Unset, span.Status().Code)
}

func TestRegister_TransportFailure(t *testing.T) {
	sr := setup(t)
	ctx, _ := opid.NewContext(context.Background())

	eventbus.Publish(ctx, events.TransportStart{Transport: "ws"})
	eventbus.Publish(ctx, events.TransportFinish{Transport: "ws", Err: errors.New("connection reset")})

	ended := sr.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Equal(t, "connection reset", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
	require.Equal(t, "exception", ended[0].Events()[0].Name)
}

func TestRegister_CancelledIsNotAnError(t *testing.T) {
	sr := setup(t)
	ctx, _ := opid.NewContext(context.Background())

	eventbus.Publish(ctx, events.TransportStart{Transport: "ws"})
	eventbus.Publish(ctx, events.TransportFinish{Transport: "ws", Err: context.Canceled, Cancelled: true})

	ended := sr.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, codes.Unset, ended[0].Status().Code)
	require.True(t, attrs(ended[0])["gqlink.cancelled"].AsBool())
}

func TestRegister_FinishWithoutStart(t *testing.T) {
	sr := setup(t)
	ctx, _ := opid.NewContext(context.Background())

	eventbus.Publish(ctx, events.TransportFinish{Transport: "http"})
	require.Empty(t, sr.Ended())
}

func TestRegister_GraphQLErrorsUnderTransport(t *testing.T) {
	sr := setup(t)
	ctx, _ := opid.NewContext(context.Background())

	eventbus.Publish(ctx, events.TransportStart{Transport: "ws", OperationName: "OnTick", OperationType: "subscription"})
	eventbus.Publish(ctx, events.GraphQLErrors{
		OperationName: "OnTick",
		OperationType: "subscription",
		Errors:        gqlerror.List{{Message: "a"}, {Message: "b"}},
	})
	eventbus.Publish(ctx, events.TransportFinish{Transport: "ws"})

	ended := sr.Ended()
	require.Len(t, ended, 2)
	errSpan, transport := ended[0], ended[1]
	require.Equal(t, "graphql.errors", errSpan.Name())
	require.Equal(t, "graphql.transport", transport.Name())
	require.Equal(t, transport.SpanContext().SpanID(), errSpan.Parent().SpanID())
	require.Equal(t, int64(2), attrs(errSpan)["graphql.error_count"].AsInt64())
	require.Len(t, errSpan.Events(), 2)
	require.Equal(t, codes.Error, errSpan.Status().Code)
}

func TestRegister_NetworkError(t *testing.T) {
	sr := setup(t)
	ctx, _ := opid.NewContext(context.Background())

	eventbus.Publish(ctx, events.NetworkError{
		OperationName: "Hello",
		OperationType: "query",
		Err:           errors.New("timeout"),
	})

	ended := sr.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "graphql.network_error", ended[0].Name())
	require.False(t, ended[0].Parent().IsValid())
	require.Equal(t, "timeout", ended[0].Status().Description)
}

func TestRegister_Unregister(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	unregister := Register(tp.Tracer("test"))
	unregister()
	eventbus.Publish(context.Background(), events.NetworkError{Err: errors.New("x")})
	require.Empty(t, sr.Ended())
}
