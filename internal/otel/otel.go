package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/gqlink/internal/eventbus"
	events "github.com/hanpama/gqlink/internal/events"
	opid "github.com/hanpama/gqlink/internal/opid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "gqlink"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unregister := Register(otel.Tracer(instrumentationName))

	return func(ctx context.Context) error {
		unregister()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes tracer to link events on the global bus and returns a
// function that removes the subscriptions.
//
// Transport start/finish pairs become "graphql.transport" spans. Errors
// intercepted by the error link become short "graphql.errors" and
// "graphql.network_error" spans, parented to the transport span while it is
// still open.
func Register(tracer trace.Tracer) (unregister func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer         trace.Tracer
	transportSpans sync.Map // opid -> trace.Span
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.TransportStart) {
			id, _ := opid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "graphql.transport", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.String("gqlink.transport", e.Transport),
				attribute.String("net.peer.name", e.Target),
			)
			s.transportSpans.Store(id, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.TransportFinish) {
			id, _ := opid.FromContext(ctx)
			v, ok := s.transportSpans.LoadAndDelete(id)
			if !ok {
				return
			}
			span := v.(trace.Span)
			if e.Status != 0 {
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			}
			span.SetAttributes(
				attribute.Int("graphql.result_count", e.Results),
				attribute.Bool("gqlink.cancelled", e.Cancelled),
			)
			if e.Err != nil && !e.Cancelled {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLErrors) {
			_, span := s.tracer.Start(s.parent(ctx), "graphql.errors")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.Int("graphql.error_count", len(e.Errors)),
			)
			for _, err := range e.Errors {
				if err != nil {
					span.RecordError(err)
				}
			}
			span.SetStatus(codes.Error, "graphql errors")
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.NetworkError) {
			_, span := s.tracer.Start(s.parent(ctx), "graphql.network_error")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
			)
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// parent returns ctx carrying the open transport span of its operation, if any.
func (s *subscriber) parent(ctx context.Context) context.Context {
	id, _ := opid.FromContext(ctx)
	if v, ok := s.transportSpans.Load(id); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}
