package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hanpama/subscribe/internal/envelope"
	eventbus "github.com/hanpama/subscribe/internal/eventbus"
	events "github.com/hanpama/subscribe/internal/events"
	reqid "github.com/hanpama/subscribe/internal/reqid"
	"github.com/hanpama/subscribe/internal/subscription"
)

// Factory derives the descriptor for one declarative slot from the host's
// inputs. A nil descriptor leaves the slot empty.
type Factory[I any] func(inputs I) (*subscription.Subscription, error)

// ManualFactory derives a descriptor from the host's current inputs and the
// argument of one manual firing.
type ManualFactory[I any] func(inputs I, arg any) (*subscription.Subscription, error)

// Declarations lists the factories of a host, in declaration order.
type Declarations[I any] struct {
	Subscriptions       []Factory[I]
	ManualSubscriptions []ManualFactory[I]
}

// ObserverFunc returns the observer injected into the subscription started
// for slot. b is nil for manual slots.
type ObserverFunc func(slot Slot, b *subscription.Bound) envelope.Observer

type Options struct {
	Observer ObserverFunc
}

type Option func(*Options)

func WithObserver(f ObserverFunc) Option { return func(o *Options) { o.Observer = f } }

type phase int

const (
	phaseNew phase = iota
	phaseAttached
	phaseDetached
)

func (p phase) String() string {
	switch p {
	case phaseNew:
		return "new"
	case phaseAttached:
		return "attached"
	default:
		return "detached"
	}
}

type activeSlot struct {
	bound      *subscription.Bound
	disposable Disposable
}

// Reconciler drives the attach, inputs-changed and detach phases of one host.
type Reconciler[I any] struct {
	id        string
	name      string
	env       subscription.Environment
	activator Activator
	decl      Declarations[I]
	opts      Options

	phase  phase
	slots  []*activeSlot
	manual []Disposable

	// inputs is read by manual triggers, which may fire outside phases.
	mu     sync.RWMutex
	inputs I
}

// New creates a reconciler for the host named name. Descriptors are bound to
// env before comparison and activation.
func New[I any](name string, env subscription.Environment, activator Activator, decl Declarations[I], opts ...Option) *Reconciler[I] {
	o := Options{}
	for _, f := range opts {
		f(&o)
	}
	if o.Observer == nil {
		o.Observer = func(Slot, *subscription.Bound) envelope.Observer { return envelope.Nop }
	}
	return &Reconciler[I]{
		id:        uuid.NewString(),
		name:      name,
		env:       env,
		activator: activator,
		decl:      decl,
		opts:      o,
		slots:     make([]*activeSlot, len(decl.Subscriptions)),
		manual:    make([]Disposable, len(decl.ManualSubscriptions)),
	}
}

// DisplayName returns the host's display name.
func (r *Reconciler[I]) DisplayName() string { return fmt.Sprintf("Subscribe(%s)", r.name) }

// Attach activates every declarative slot whose factory yields a descriptor
// and opens every manual channel.
func (r *Reconciler[I]) Attach(ctx context.Context, inputs I) error {
	if r.phase != phaseNew {
		return fmt.Errorf("%w: attach while %s", ErrPhaseOrder, r.phase)
	}
	r.phase = phaseAttached
	r.setInputs(inputs)

	return r.run(ctx, events.PhaseAttach, func(ctx context.Context) error {
		var errs []error
		for i, f := range r.decl.Subscriptions {
			b, err := r.evaluate(i, f, inputs)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if b == nil {
				continue
			}
			if err := r.activate(ctx, i, b); err != nil {
				errs = append(errs, err)
			}
		}
		for i, f := range r.decl.ManualSubscriptions {
			if f == nil {
				continue
			}
			if err := r.activateManual(ctx, i, f); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// InputsChanged re-evaluates every declarative factory against next and
// replaces the slots whose descriptor changed. Manual slots are untouched.
func (r *Reconciler[I]) InputsChanged(ctx context.Context, next I) error {
	if r.phase != phaseAttached {
		return fmt.Errorf("%w: inputs changed while %s", ErrPhaseOrder, r.phase)
	}
	r.setInputs(next)

	return r.run(ctx, events.PhaseInputsChanged, func(ctx context.Context) error {
		var errs []error
		for i, f := range r.decl.Subscriptions {
			b, err := r.evaluate(i, f, next)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			cur := r.slots[i]
			if cur == nil && b == nil {
				continue
			}
			if cur != nil && cur.bound.Equal(b) {
				continue
			}
			if cur != nil {
				if err := r.release(ctx, i); err != nil {
					errs = append(errs, err)
				}
			}
			if b != nil {
				if err := r.activate(ctx, i, b); err != nil {
					errs = append(errs, err)
				}
			}
		}
		return errors.Join(errs...)
	})
}

// Detach disposes every declarative and manual handle. It attempts every
// slot and returns the disposal failures joined.
func (r *Reconciler[I]) Detach(ctx context.Context) error {
	if r.phase != phaseAttached {
		return fmt.Errorf("%w: detach while %s", ErrPhaseOrder, r.phase)
	}
	r.phase = phaseDetached

	return r.run(ctx, events.PhaseDetach, func(ctx context.Context) error {
		var errs []error
		for i := range r.slots {
			if r.slots[i] == nil {
				continue
			}
			if err := r.release(ctx, i); err != nil {
				errs = append(errs, err)
			}
		}
		for i, d := range r.manual {
			if d == nil {
				continue
			}
			r.manual[i] = nil
			slot := Slot{Index: i, Manual: true}
			err := dispose(d)
			eventbus.Publish(ctx, events.SubscriptionStop{Owner: r.id, Slot: i, Manual: true, Err: err})
			if err != nil {
				errs = append(errs, &DisposalError{Slot: slot, Err: err})
			}
		}
		return errors.Join(errs...)
	})
}

// Fire triggers manual slot i with arg.
func (r *Reconciler[I]) Fire(ctx context.Context, i int, arg any) error {
	if r.phase != phaseAttached {
		return fmt.Errorf("%w: fire while %s", ErrPhaseOrder, r.phase)
	}
	if i < 0 || i >= len(r.manual) || r.manual[i] == nil {
		return fmt.Errorf("%w: manual slot %d", ErrNoSlot, i)
	}
	f, ok := r.manual[i].(Firer)
	if !ok {
		return ErrNotFireable
	}
	return f.Fire(ctx, arg)
}

// Active returns the descriptor and handle held by declarative slot i.
func (r *Reconciler[I]) Active(i int) (*subscription.Bound, Disposable, bool) {
	if i < 0 || i >= len(r.slots) || r.slots[i] == nil {
		return nil, nil, false
	}
	return r.slots[i].bound, r.slots[i].disposable, true
}

// Manual returns the handle held by manual slot i.
func (r *Reconciler[I]) Manual(i int) (Disposable, bool) {
	if i < 0 || i >= len(r.manual) || r.manual[i] == nil {
		return nil, false
	}
	return r.manual[i], true
}

func (r *Reconciler[I]) run(ctx context.Context, p events.Phase, fn func(context.Context) error) error {
	ctx, _ = reqid.NewContext(ctx)
	start := time.Now()
	eventbus.Publish(ctx, events.PhaseStart{Owner: r.id, Host: r.DisplayName(), Phase: p})
	err := fn(ctx)
	eventbus.Publish(ctx, events.PhaseFinish{Owner: r.id, Host: r.DisplayName(), Phase: p, Err: err, Duration: time.Since(start)})
	return err
}

// evaluate runs factory i and binds its descriptor.
func (r *Reconciler[I]) evaluate(i int, f Factory[I], inputs I) (*subscription.Bound, error) {
	if f == nil {
		return nil, nil
	}
	sub, err := f(inputs)
	if err != nil {
		return nil, &DescriptorError{Slot: Slot{Index: i}, Err: err}
	}
	if sub == nil {
		return nil, nil
	}
	b, err := sub.Bind(r.env)
	if err != nil {
		return nil, &DescriptorError{Slot: Slot{Index: i}, Err: err}
	}
	return b, nil
}

func (r *Reconciler[I]) activate(ctx context.Context, i int, b *subscription.Bound) error {
	slot := Slot{Index: i}
	d, err := r.activator.ActivateDeclarative(ctx, b, r.opts.Observer(slot, b))
	if err == nil && d == nil {
		err = ErrNilDisposable
	}
	if err != nil {
		return &ActivationError{Slot: slot, Err: err}
	}
	r.slots[i] = &activeSlot{bound: b, disposable: d}
	eventbus.Publish(ctx, events.SubscriptionStart{Owner: r.id, Slot: i, Kind: string(b.Kind())})
	return nil
}

func (r *Reconciler[I]) activateManual(ctx context.Context, i int, f ManualFactory[I]) error {
	slot := Slot{Index: i, Manual: true}
	trigger := func(arg any) (*subscription.Subscription, error) {
		return f(r.currentInputs(), arg)
	}
	d, err := r.activator.ActivateManual(ctx, trigger, r.opts.Observer(slot, nil))
	if err == nil && d == nil {
		err = ErrNilDisposable
	}
	if err != nil {
		return &ActivationError{Slot: slot, Err: err}
	}
	r.manual[i] = d
	eventbus.Publish(ctx, events.SubscriptionStart{Owner: r.id, Slot: i, Manual: true})
	return nil
}

// release empties declarative slot i and disposes its handle.
func (r *Reconciler[I]) release(ctx context.Context, i int) error {
	cur := r.slots[i]
	r.slots[i] = nil
	err := dispose(cur.disposable)
	eventbus.Publish(ctx, events.SubscriptionStop{Owner: r.id, Slot: i, Kind: string(cur.bound.Kind()), Err: err})
	if err != nil {
		return &DisposalError{Slot: Slot{Index: i}, Err: err}
	}
	return nil
}

func dispose(d Disposable) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errDisposePanicked, p)
		}
	}()
	return d.Dispose()
}

func (r *Reconciler[I]) setInputs(inputs I) {
	r.mu.Lock()
	r.inputs = inputs
	r.mu.Unlock()
}

func (r *Reconciler[I]) currentInputs() I {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inputs
}
