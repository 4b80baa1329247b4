package httplink

import (
	"net/http"
	"time"
)

// Options configures the HTTP link.
//
// Defaults:
// - Client:          http.DefaultClient
// - GETForQueries:   false (every operation is POSTed)
// - Timeout:         none (the operation context decides)
type Options struct {
	Client        *http.Client
	Header        http.Header
	GETForQueries bool
	Timeout       time.Duration
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client: http.DefaultClient,
		Header: http.Header{},
	}
}

func WithClient(c *http.Client) Option   { return func(o *Options) { o.Client = c } }
func WithGETForQueries() Option          { return func(o *Options) { o.GETForQueries = true } }
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithHeader(name, value string) Option {
	return func(o *Options) { o.Header.Add(name, value) }
}
