package reconciler

import (
	"context"

	"github.com/hanpama/subscribe/internal/envelope"
	"github.com/hanpama/subscribe/internal/subscription"
)

// Disposable releases one live subscription. Dispose must be idempotent and
// must stop further delivery to the subscription's observer.
type Disposable interface {
	Dispose() error
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func() error

func (f DisposeFunc) Dispose() error { return f() }

// Trigger produces the descriptor for one manual firing.
type Trigger func(arg any) (*subscription.Subscription, error)

// Firer is implemented by manual handles that can be fired.
type Firer interface {
	Fire(ctx context.Context, arg any) error
}

// Activator starts subscriptions on behalf of a Reconciler.
type Activator interface {
	// ActivateDeclarative starts a subscription for b, delivering its pushes
	// to observer.
	ActivateDeclarative(ctx context.Context, b *subscription.Bound, observer envelope.Observer) (Disposable, error)

	// ActivateManual opens a manual channel. Each firing calls trigger and
	// starts the resulting subscription, delivering to observer.
	ActivateManual(ctx context.Context, trigger Trigger, observer envelope.Observer) (Disposable, error)
}
