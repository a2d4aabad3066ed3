package environment

import (
	"github.com/hanpama/subscribe/internal/printer"
	"github.com/hanpama/subscribe/internal/subscription"
	"github.com/hanpama/subscribe/internal/transport"
)

// Options configures an Environment.
//
// Defaults:
// - Materializer: printer.New()
// - Values:       empty
//
// Transport must be provided; activation fails without one.
type Options struct {
	Transport    transport.Transport
	Materializer printer.Materializer
	Values       subscription.Environment
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Materializer: printer.New(),
		Values:       subscription.Values{},
	}
}

func WithTransport(t transport.Transport) Option { return func(o *Options) { o.Transport = t } }
func WithMaterializer(m printer.Materializer) Option {
	return func(o *Options) { o.Materializer = m }
}
func WithValues(v subscription.Environment) Option { return func(o *Options) { o.Values = v } }
