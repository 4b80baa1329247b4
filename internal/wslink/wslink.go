// Package wslink is a terminating link that runs operations over a
// WebSocket using the graphql-transport-ws protocol.
//
// Every subscribed operation opens its own connection:
//
//	client                         server
//	connection_init      ------>
//	                     <------   connection_ack
//	subscribe{id}        ------>
//	                     <------   next{id} ...
//	                     <------   complete{id} | error{id}
//
// Unsubscribing before the server finishes sends complete{id} and closes
// the connection. ping messages are answered with pong at any time.
package wslink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vektah/gqlparser/v2/gqlerror"

	eventbus "github.com/hanpama/gqlink/internal/eventbus"
	events "github.com/hanpama/gqlink/internal/events"
	"github.com/hanpama/gqlink/internal/link"
	"github.com/hanpama/gqlink/internal/observable"
)

// Subprotocol is the WebSocket subprotocol spoken by the link.
const Subprotocol = "graphql-transport-ws"

const transportName = "ws"

const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Link runs operations against a single WebSocket endpoint.
type Link struct {
	uri    string
	opts   *Options
	dialer websocket.Dialer
}

// New creates a Link for the endpoint at uri (ws:// or wss://).
func New(uri string, opts ...Option) *Link {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	var d websocket.Dialer
	if o.Dialer != nil {
		d = *o.Dialer
	}
	d.Subprotocols = []string{Subprotocol}
	return &Link{uri: uri, opts: o, dialer: d}
}

// Ensure we satisfy link.Link
var _ link.Link = (*Link)(nil)

// Request ignores forward: the WebSocket link ends the chain.
func (l *Link) Request(op *link.Operation, _ link.NextLink) *observable.Observable[*link.Result] {
	return observable.New(func(s *observable.Subscriber[*link.Result]) func() {
		ctx, cancel := context.WithCancel(op.Context())
		go l.run(ctx, op, s)
		return cancel
	})
}

func (l *Link) run(ctx context.Context, op *link.Operation, s *observable.Subscriber[*link.Result]) {
	typ := string(op.Type())
	start := time.Now()
	eventbus.Publish(ctx, events.TransportStart{
		Transport:     transportName,
		Target:        l.uri,
		OperationName: op.OperationName,
		OperationType: typ,
	})
	n, err := l.stream(ctx, op, s)
	eventbus.Publish(ctx, events.TransportFinish{
		Transport:     transportName,
		Target:        l.uri,
		OperationName: op.OperationName,
		OperationType: typ,
		Results:       n,
		Err:           err,
		Cancelled:     s.Closed(),
		Duration:      time.Since(start),
	})

	if err != nil {
		s.Error(err)
		return
	}
	s.Complete()
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(m message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(m)
}

// stream runs one operation and returns the number of results delivered.
func (l *Link) stream(ctx context.Context, op *link.Operation, s *observable.Subscriber[*link.Result]) (int, error) {
	ws, _, err := l.dialer.DialContext(ctx, l.uri, l.opts.Header)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("wslink: dial: %w", err)
	}
	c := &conn{ws: ws}
	id := uuid.NewString()

	var subscribed, finished atomic.Bool
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			if subscribed.Load() && !finished.Load() {
				_ = c.write(message{ID: id, Type: msgComplete})
			}
		case <-stop:
		}
		_ = ws.Close()
	}()

	if err := l.handshake(ctx, c); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(subscribePayload{
		Query:         op.Query,
		OperationName: op.OperationName,
		Variables:     op.Variables,
		Extensions:    op.Extensions,
	})
	if err != nil {
		return 0, fmt.Errorf("wslink: encode request: %w", err)
	}
	if err := c.write(message{ID: id, Type: msgSubscribe, Payload: payload}); err != nil {
		return 0, l.connErr(ctx, "write", err)
	}
	subscribed.Store(true)

	n := 0
	for {
		var m message
		if err := ws.ReadJSON(&m); err != nil {
			return n, l.connErr(ctx, "read", err)
		}
		switch m.Type {
		case msgPing:
			if err := c.write(message{Type: msgPong}); err != nil {
				return n, l.connErr(ctx, "write", err)
			}
		case msgNext:
			if m.ID != id {
				continue
			}
			var res link.Result
			if err := json.Unmarshal(m.Payload, &res); err != nil {
				return n, fmt.Errorf("wslink: decode next: %w", err)
			}
			n++
			s.Next(&res)
		case msgError:
			if m.ID != id {
				continue
			}
			finished.Store(true)
			var errs gqlerror.List
			if err := json.Unmarshal(m.Payload, &errs); err != nil {
				return n, fmt.Errorf("wslink: decode error: %w", err)
			}
			return n, &SubscriptionError{Errors: errs}
		case msgComplete:
			if m.ID != id {
				continue
			}
			finished.Store(true)
			return n, nil
		}
	}
}

// handshake sends connection_init and waits for connection_ack.
func (l *Link) handshake(ctx context.Context, c *conn) error {
	hello := message{Type: msgConnectionInit}
	if l.opts.ConnectionParams != nil {
		b, err := json.Marshal(l.opts.ConnectionParams)
		if err != nil {
			return fmt.Errorf("wslink: encode connection params: %w", err)
		}
		hello.Payload = b
	}
	if err := c.write(hello); err != nil {
		return l.connErr(ctx, "write", err)
	}

	if l.opts.AckTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(l.opts.AckTimeout))
	}
	for {
		var m message
		if err := c.ws.ReadJSON(&m); err != nil {
			var ne net.Error
			if ctx.Err() == nil && errors.As(err, &ne) && ne.Timeout() {
				return ErrAckTimeout
			}
			return l.connErr(ctx, "read", err)
		}
		switch m.Type {
		case msgConnectionAck:
			return c.ws.SetReadDeadline(time.Time{})
		case msgPing:
			if err := c.write(message{Type: msgPong}); err != nil {
				return l.connErr(ctx, "write", err)
			}
		default:
			return fmt.Errorf("wslink: unexpected %q before %s", m.Type, msgConnectionAck)
		}
	}
}

// connErr reports a connection failure, preferring the context error when
// the connection was torn down because the operation ended.
func (l *Link) connErr(ctx context.Context, action string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("wslink: %s: %w", action, err)
}
