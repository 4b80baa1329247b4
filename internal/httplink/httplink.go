// Package httplink is a terminating link that sends operations to a GraphQL
// server over HTTP.
//
// Each subscription performs one request in its own goroutine and emits one
// result. Unsubscribing cancels the request.
package httplink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	eventbus "github.com/hanpama/gqlink/internal/eventbus"
	events "github.com/hanpama/gqlink/internal/events"
	language "github.com/hanpama/gqlink/internal/language"
	"github.com/hanpama/gqlink/internal/link"
	"github.com/hanpama/gqlink/internal/observable"
)

const transportName = "http"

var (
	// ErrEmptyResponse indicates a JSON body with neither "data" nor "errors".
	ErrEmptyResponse = errors.New("httplink: server response was missing data and errors")
)

// Link sends operations to a single GraphQL endpoint.
type Link struct {
	uri  string
	opts *Options
}

// New creates a Link for the endpoint at uri.
func New(uri string, opts ...Option) *Link {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	return &Link{uri: uri, opts: o}
}

// Ensure we satisfy link.Link
var _ link.Link = (*Link)(nil)

// Request ignores forward: the HTTP link ends the chain.
func (l *Link) Request(op *link.Operation, _ link.NextLink) *observable.Observable[*link.Result] {
	return observable.New(func(s *observable.Subscriber[*link.Result]) func() {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if l.opts.Timeout > 0 {
			ctx, cancel = context.WithTimeout(op.Context(), l.opts.Timeout)
		} else {
			ctx, cancel = context.WithCancel(op.Context())
		}
		go l.run(ctx, op, s)
		return cancel
	})
}

func (l *Link) run(ctx context.Context, op *link.Operation, s *observable.Subscriber[*link.Result]) {
	typ := op.Type()
	start := time.Now()
	eventbus.Publish(ctx, events.TransportStart{
		Transport:     transportName,
		Target:        l.uri,
		OperationName: op.OperationName,
		OperationType: string(typ),
	})
	status, res, err := l.do(ctx, op, typ)
	finish := events.TransportFinish{
		Transport:     transportName,
		Target:        l.uri,
		OperationName: op.OperationName,
		OperationType: string(typ),
		Status:        status,
		Err:           err,
		Cancelled:     s.Closed(),
		Duration:      time.Since(start),
	}
	if res != nil {
		finish.Results = 1
	}
	eventbus.Publish(ctx, finish)

	if err != nil {
		s.Error(err)
		return
	}
	s.Next(res)
	s.Complete()
}

func (l *Link) do(ctx context.Context, op *link.Operation, typ language.Operation) (int, *link.Result, error) {
	req, err := l.newRequest(ctx, op, typ)
	if err != nil {
		return 0, nil, err
	}
	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("httplink: read body: %w", err)
	}
	var res link.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return resp.StatusCode, nil, &ServerParseError{StatusCode: resp.StatusCode, Body: body, Err: err}
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, nil, &ServerError{StatusCode: resp.StatusCode, Body: body, Result: &res}
	}
	if len(res.Data) == 0 && res.Errors == nil {
		return resp.StatusCode, nil, ErrEmptyResponse
	}
	return resp.StatusCode, &res, nil
}

// ------------------ Request encoding ------------------

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func (l *Link) newRequest(ctx context.Context, op *link.Operation, typ language.Operation) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if l.opts.GETForQueries && typ == language.Query {
		req, err = l.newGET(ctx, op)
	} else {
		req, err = l.newPOST(ctx, op)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/graphql-response+json, application/json")
	for k, vs := range l.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func (l *Link) newPOST(ctx context.Context, op *link.Operation) (*http.Request, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:         op.Query,
		OperationName: op.OperationName,
		Variables:     op.Variables,
		Extensions:    op.Extensions,
	})
	if err != nil {
		return nil, fmt.Errorf("httplink: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (l *Link) newGET(ctx context.Context, op *link.Operation) (*http.Request, error) {
	u, err := url.Parse(l.uri)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("query", op.Query)
	if op.OperationName != "" {
		q.Set("operationName", op.OperationName)
	}
	if len(op.Variables) > 0 {
		b, err := json.Marshal(op.Variables)
		if err != nil {
			return nil, fmt.Errorf("httplink: encode variables: %w", err)
		}
		q.Set("variables", string(b))
	}
	if len(op.Extensions) > 0 {
		b, err := json.Marshal(op.Extensions)
		if err != nil {
			return nil, fmt.Errorf("httplink: encode extensions: %w", err)
		}
		q.Set("extensions", string(b))
	}
	u.RawQuery = q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}
