package httplink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/gqlink/internal/errorlink"
	eventbus "github.com/hanpama/gqlink/internal/eventbus"
	events "github.com/hanpama/gqlink/internal/events"
	"github.com/hanpama/gqlink/internal/link"
	"github.com/hanpama/gqlink/internal/observable"
)

// seenRequest captures what the test server received.
type seenRequest struct {
	Method  string
	Header  http.Header
	Query   map[string]string
	Payload graphQLRequest
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *[]seenRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []seenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := seenRequest{Method: r.Method, Header: r.Header.Clone(), Query: map[string]string{}}
		for k := range r.URL.Query() {
			s.Query[k] = r.URL.Query().Get(k)
		}
		if r.Method == http.MethodPost {
			b, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(b, &s.Payload)
		}
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func execute(t *testing.T, l link.Link, op *link.Operation) ([]*link.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return observable.Collect(ctx, link.Execute(l, op))
}

func TestLink_PostQuery(t *testing.T) {
	srv, seen := newServer(t, http.StatusOK, `{"data":{"hello":"world"}}`)
	l := New(srv.URL, WithHeader("Authorization", "Bearer token"))

	op := link.NewOperation(context.Background(), "query Hello($n: Int) { hello(n: $n) }",
		link.WithOperationName("Hello"),
		link.WithVariables(map[string]any{"n": float64(2)}),
	)
	got, err := execute(t, l, op)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.JSONEq(t, `{"hello":"world"}`, string(got[0].Data))
	require.Empty(t, got[0].Errors)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, "Bearer token", req.Header.Get("Authorization"))
	require.Equal(t, graphQLRequest{
		Query:         "query Hello($n: Int) { hello(n: $n) }",
		OperationName: "Hello",
		Variables:     map[string]any{"n": float64(2)},
	}, req.Payload)
}

func TestLink_GraphQLErrorsAreResults(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{"data":{"hello":null},"errors":[{"message":"bad field","path":["hello"]}]}`)

	got, err := execute(t, New(srv.URL), link.NewOperation(context.Background(), "{ hello }"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Errors, 1)
	require.Equal(t, "bad field", got[0].Errors[0].Message)
}

func TestLink_ServerError(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, `{"errors":[{"message":"internal"}]}`)

	_, err := execute(t, New(srv.URL), link.NewOperation(context.Background(), "{ hello }"))
	var se *ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.StatusCode)
	require.NotNil(t, se.Result)
	require.Equal(t, "internal", se.Result.Errors[0].Message)
}

func TestLink_ServerParseError(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)

	_, err := execute(t, New(srv.URL), link.NewOperation(context.Background(), "{ hello }"))
	var pe *ServerParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusBadGateway, pe.StatusCode)
	require.Equal(t, "<html>bad gateway</html>", string(pe.Body))
}

func TestLink_EmptyResponse(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)

	_, err := execute(t, New(srv.URL), link.NewOperation(context.Background(), "{ hello }"))
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestLink_GETForQueries(t *testing.T) {
	srv, seen := newServer(t, http.StatusOK, `{"data":{}}`)
	l := New(srv.URL+"?token=abc", WithGETForQueries())

	_, err := execute(t, l, link.NewOperation(context.Background(), "query Q { a }",
		link.WithOperationName("Q"),
		link.WithVariables(map[string]any{"id": "1"}),
	))
	require.NoError(t, err)
	_, err = execute(t, l, link.NewOperation(context.Background(), "mutation M { b }"))
	require.NoError(t, err)

	require.Len(t, *seen, 2)
	get := (*seen)[0]
	require.Equal(t, http.MethodGet, get.Method)
	require.Equal(t, map[string]string{
		"token":         "abc",
		"query":         "query Q { a }",
		"operationName": "Q",
		"variables":     `{"id":"1"}`,
	}, get.Query)
	require.Equal(t, http.MethodPost, (*seen)[1].Method)
}

func TestLink_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := execute(t, New(url), link.NewOperation(context.Background(), "{ hello }"))
	require.Error(t, err)
}

func TestLink_UnsubscribeCancelsRequest(t *testing.T) {
	arrived := make(chan struct{})
	cancelled := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the server notices a client disconnect only once the body is read
		_, _ = io.ReadAll(r.Body)
		close(arrived)
		select {
		case <-r.Context().Done():
			close(cancelled)
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	var mu sync.Mutex
	var delivered int
	count := func() {
		mu.Lock()
		delivered++
		mu.Unlock()
	}
	sub := link.Execute(New(srv.URL), link.NewOperation(context.Background(), "{ slow }")).
		Subscribe(observable.Funcs[*link.Result]{
			OnNext:     func(*link.Result) { count() },
			OnError:    func(error) { count() },
			OnComplete: count,
		})

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("request never arrived")
	}
	sub.Unsubscribe()
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("request was not cancelled")
	}
	// give a late delivery the chance to show up
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, delivered)
}

func TestLink_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	_, err := execute(t, New(srv.URL, WithTimeout(50*time.Millisecond)), link.NewOperation(context.Background(), "{ slow }"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLink_PublishesTransportEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var starts []events.TransportStart
	var finishes []events.TransportFinish
	eventbus.Subscribe(func(_ context.Context, e events.TransportStart) {
		mu.Lock()
		starts = append(starts, e)
		mu.Unlock()
	})
	eventbus.Subscribe(func(_ context.Context, e events.TransportFinish) {
		mu.Lock()
		finishes = append(finishes, e)
		mu.Unlock()
	})

	srv, _ := newServer(t, http.StatusOK, `{"data":{"ok":true}}`)
	_, err := execute(t, New(srv.URL), link.NewOperation(context.Background(), "mutation Save { ok }", link.WithOperationName("Save")))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []events.TransportStart{{
		Transport:     "http",
		Target:        srv.URL,
		OperationName: "Save",
		OperationType: "mutation",
	}}, starts)
	require.Len(t, finishes, 1)
	require.Equal(t, http.StatusOK, finishes[0].Status)
	require.Equal(t, 1, finishes[0].Results)
	require.NoError(t, finishes[0].Err)
	require.False(t, finishes[0].Cancelled)
}

func TestLink_WithErrorLink(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{"data":null,"errors":[{"message":"bad field"}]}`)

	var mu sync.Mutex
	var got []errorlink.ErrorResponse
	h := func(r errorlink.ErrorResponse) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}
	chain := link.From(errorlink.New(h), New(srv.URL))

	results, err := execute(t, chain, link.NewOperation(context.Background(), "{ hello }"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	mu.Lock()
	require.Len(t, got, 1)
	ge, ok := got[0].(*errorlink.GraphQLErrors)
	require.True(t, ok)
	require.Same(t, results[0], ge.Response)
	require.Equal(t, "bad field", ge.Errors[0].Message)
	mu.Unlock()

	// network failures go to the handler as well
	srv.Close()
	_, err = execute(t, chain, link.NewOperation(context.Background(), "{ hello }"))
	require.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	var ne *errorlink.NetworkError
	require.True(t, errors.As(got[1], &ne))
	require.Same(t, err, ne.Err)
}
