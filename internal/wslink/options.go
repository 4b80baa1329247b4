package wslink

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Options configures the WebSocket link.
//
// Defaults:
// - Dialer:      websocket.DefaultDialer settings
// - AckTimeout:  10s to receive connection_ack after connection_init
type Options struct {
	Dialer           *websocket.Dialer
	Header           http.Header
	ConnectionParams map[string]any
	AckTimeout       time.Duration
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Dialer:     websocket.DefaultDialer,
		Header:     http.Header{},
		AckTimeout: 10 * time.Second,
	}
}

func WithDialer(d *websocket.Dialer) Option { return func(o *Options) { o.Dialer = d } }
func WithAckTimeout(d time.Duration) Option { return func(o *Options) { o.AckTimeout = d } }
func WithHeader(name, value string) Option {
	return func(o *Options) { o.Header.Add(name, value) }
}

// WithConnectionParams sets the payload of connection_init.
func WithConnectionParams(params map[string]any) Option {
	return func(o *Options) { o.ConnectionParams = params }
}
