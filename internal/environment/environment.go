// Package environment activates subscriptions for reconcilers: it binds
// descriptors, wraps them in envelopes and hands them to a transport.
package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hanpama/subscribe/internal/envelope"
	eventbus "github.com/hanpama/subscribe/internal/eventbus"
	events "github.com/hanpama/subscribe/internal/events"
	"github.com/hanpama/subscribe/internal/reconciler"
	"github.com/hanpama/subscribe/internal/subscription"
	"github.com/hanpama/subscribe/internal/transport"
)

var (
	ErrNoTransport = errors.New("environment: transport not configured")
	ErrClosed      = errors.New("environment: manual channel disposed")
)

// Environment is both the variable environment descriptors bind to and the
// Activator of the reconcilers using it.
type Environment struct {
	opts *Options
}

var (
	_ reconciler.Activator     = (*Environment)(nil)
	_ subscription.Environment = (*Environment)(nil)
)

func New(opts ...Option) *Environment {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Environment{opts: o}
}

func (e *Environment) Lookup(key string) (any, bool) {
	if e.opts.Values == nil {
		return nil, false
	}
	return e.opts.Values.Lookup(key)
}

// Subscribe binds sub to e and starts it. It is the ad hoc entry point for
// hosts that start subscriptions imperatively.
func (e *Environment) Subscribe(ctx context.Context, sub *subscription.Subscription, observer envelope.Observer) (reconciler.Disposable, error) {
	b, err := sub.Bind(e)
	if err != nil {
		return nil, err
	}
	return e.ActivateDeclarative(ctx, b, observer)
}

func (e *Environment) ActivateDeclarative(ctx context.Context, b *subscription.Bound, observer envelope.Observer) (reconciler.Disposable, error) {
	if e.opts.Transport == nil {
		return nil, ErrNoTransport
	}
	g := &gate{kind: string(b.Kind()), ctx: context.WithoutCancel(ctx), observer: observer}
	if g.observer == nil {
		g.observer = envelope.Nop
	}
	req := envelope.New(b, g, e.opts.Materializer)
	cancel, err := e.opts.Transport.Subscribe(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("environment: start %s: %w", req.DebugName(), err)
	}
	return &handle{gate: g, cancel: cancel}, nil
}

func (e *Environment) ActivateManual(_ context.Context, trigger reconciler.Trigger, observer envelope.Observer) (reconciler.Disposable, error) {
	if e.opts.Transport == nil {
		return nil, ErrNoTransport
	}
	return &Channel{env: e, trigger: trigger, observer: observer}, nil
}

// handle disposes one declarative activation.
type handle struct {
	once   sync.Once
	gate   *gate
	cancel transport.Cancel
	err    error
}

func (h *handle) Dispose() error {
	h.once.Do(func() {
		h.gate.close()
		if h.cancel != nil {
			h.err = h.cancel()
		}
	})
	return h.err
}

// Channel is the handle of a manual slot. Every Fire starts one subscription
// from the trigger's descriptor; Dispose stops all of them.
type Channel struct {
	env      *Environment
	trigger  reconciler.Trigger
	observer envelope.Observer

	mu       sync.Mutex
	closed   bool
	children []reconciler.Disposable
}

var _ reconciler.Firer = (*Channel)(nil)

// Fire starts the subscription produced by the trigger for arg. A nil
// descriptor starts nothing.
func (c *Channel) Fire(ctx context.Context, arg any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	sub, err := c.trigger(arg)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	d, err := c.env.Subscribe(ctx, sub, c.observer)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.Join(ErrClosed, d.Dispose())
	}
	c.children = append(c.children, d)
	return nil
}

func (c *Channel) Dispose() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	children := c.children
	c.children = nil
	c.mu.Unlock()

	var errs []error
	for _, d := range children {
		if err := d.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// gate forwards pushes to the observer until it is closed. Deliveries hold
// the read lock while the observer runs, so close returns only after every
// delivery in flight has finished. Observers must not dispose their own
// handle synchronously from a callback.
type gate struct {
	kind     string
	ctx      context.Context
	observer envelope.Observer

	mu     sync.RWMutex
	closed bool
}

func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// deliver runs fn under the read lock unless the gate is closed.
func (g *gate) deliver(s events.Signal, err error, fn func()) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		eventbus.Publish(g.ctx, events.DeliveryDropped{Kind: g.kind, Signal: s})
		return
	}
	eventbus.Publish(g.ctx, events.Delivery{Kind: g.kind, Signal: s, Err: err})
	fn()
}

func (g *gate) OnNext(payload envelope.Result) {
	g.deliver(events.SignalNext, nil, func() { g.observer.OnNext(payload) })
}

func (g *gate) OnError(err error) {
	g.deliver(events.SignalError, err, func() { g.observer.OnError(err) })
}

func (g *gate) OnCompleted(value any) {
	g.deliver(events.SignalCompleted, nil, func() { g.observer.OnCompleted(value) })
}
