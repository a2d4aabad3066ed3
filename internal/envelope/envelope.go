// Package envelope wraps one active declarative subscription: it prints the
// wire query on demand and forwards pushed results to an observer.
package envelope

import (
	"errors"
	"fmt"

	"github.com/hanpama/subscribe/internal/printer"
	"github.com/hanpama/subscribe/internal/subscription"
)

// ErrMissingClientID is returned when a descriptor's variables carry no
// input.clientSubscriptionId.
var ErrMissingClientID = errors.New("envelope: variables carry no input.clientSubscriptionId")

// Request is the envelope of one activation. It is not safe for concurrent
// materialization; the On* methods may be called from the transport goroutine.
type Request struct {
	bound        *subscription.Bound
	observer     Observer
	materializer printer.Materializer

	printed *printer.PrintedQuery
}

// New wraps b. A nil observer discards events; a nil materializer uses the
// GraphQL printer.
func New(b *subscription.Bound, observer Observer, m printer.Materializer) *Request {
	if observer == nil {
		observer = Nop
	}
	if m == nil {
		m = printer.New()
	}
	return &Request{bound: b, observer: observer, materializer: m}
}

func (r *Request) DebugName() string { return string(r.bound.Kind()) }

func (r *Request) Variables() (map[string]any, error) {
	p, err := r.printedQuery()
	if err != nil {
		return nil, err
	}
	return p.Variables, nil
}

func (r *Request) QueryText() (string, error) {
	p, err := r.printedQuery()
	if err != nil {
		return "", err
	}
	return p.Text, nil
}

func (r *Request) OperationName() (string, error) {
	p, err := r.printedQuery()
	if err != nil {
		return "", err
	}
	return p.OperationName, nil
}

// printedQuery materializes text and variables in one pass. Failures are not
// cached.
func (r *Request) printedQuery() (*printer.PrintedQuery, error) {
	if r.printed != nil {
		return r.printed, nil
	}
	p, err := r.materializer.Materialize(r.bound)
	if err != nil {
		return nil, err
	}
	r.printed = p
	return p, nil
}

// ClientSubscriptionID returns input.clientSubscriptionId from the bound
// variables.
func (r *Request) ClientSubscriptionID() (string, error) {
	input, ok := r.bound.Variables()["input"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%s: %w", r.DebugName(), ErrMissingClientID)
	}
	id, ok := input["clientSubscriptionId"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%s: %w", r.DebugName(), ErrMissingClientID)
	}
	return id, nil
}

// OriginalSubscription returns the descriptor instance the envelope was
// built from.
func (r *Request) OriginalSubscription() *subscription.Subscription { return r.bound.Origin() }

func (r *Request) Bound() *subscription.Bound { return r.bound }

func (r *Request) OnNext(payload Result) { r.observer.OnNext(payload) }
func (r *Request) OnError(err error)     { r.observer.OnError(err) }
func (r *Request) OnCompleted(value any) { r.observer.OnCompleted(value) }
