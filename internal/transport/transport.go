package transport

import (
	"context"

	"github.com/hanpama/subscribe/internal/envelope"
)

// Cancel stops one subscription started by a Transport. It must be safe to
// call more than once.
type Cancel func() error

// Transport sends subscription requests and streams their results back
// through the request's On* methods.
// Implementations MUST be safe for concurrent use: results are delivered from
// the transport's own goroutines.
//
// Provided implementations:
// - internal/wstp.Transport: graphql-transport-ws over a websocket
// - MockTransport: test fake that records requests and pushes on demand
type Transport interface {
	// Subscribe starts req. Materialization errors from req surface here.
	Subscribe(ctx context.Context, req *envelope.Request) (Cancel, error)
}
