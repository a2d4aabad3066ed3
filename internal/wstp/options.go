package wstp

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Options configures the websocket transport.
//
// Defaults:
// - HandshakeTimeout: 10s (dial and connection_ack wait)
// - WriteTimeout:     5s
// - Dialer:           websocket.DefaultDialer
//
// All options are safe to leave zero-valued to use defaults.
type Options struct {
	Header      http.Header
	InitPayload map[string]any

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	Dialer *websocket.Dialer
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		Dialer:           websocket.DefaultDialer,
	}
}

func WithHeader(h http.Header) Option             { return func(o *Options) { o.Header = h } }
func WithInitPayload(p map[string]any) Option     { return func(o *Options) { o.InitPayload = p } }
func WithHandshakeTimeout(d time.Duration) Option { return func(o *Options) { o.HandshakeTimeout = d } }
func WithWriteTimeout(d time.Duration) Option     { return func(o *Options) { o.WriteTimeout = d } }
func WithDialer(d *websocket.Dialer) Option       { return func(o *Options) { o.Dialer = d } }
