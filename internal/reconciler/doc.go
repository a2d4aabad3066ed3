// Package reconciler keeps a host's active subscriptions in sync with the
// descriptors its factories produce from the host's inputs.
//
// # Slots
//
// A Reconciler owns two positional slot lists. Declarative slot i always
// belongs to Declarations.Subscriptions[i]; it is either empty or holds a bound
// descriptor together with the Disposable returned by the Activator. Manual
// slot i belongs to Declarations.ManualSubscriptions[i] and holds only a Disposable:
// manual subscriptions receive a Trigger instead of a descriptor and are never
// compared.
//
// # Phases
//
// The host drives the reconciler through three phases, in this order:
//
//	Attach(inputs)         exactly once
//	InputsChanged(inputs)  zero or more times
//	Detach()               exactly once
//
// Calls out of order return ErrPhaseOrder and change nothing.
//
// On InputsChanged every factory is re-evaluated. The next descriptor is bound
// to the environment before it is compared with the slot's current one. Equal
// descriptors (same kind, deep-equal variables) leave the slot untouched,
// including its stored descriptor. Otherwise the current handle is disposed
// before the replacement is activated, so a slot never holds more than one
// live handle.
//
// # Errors
//
// Failures are isolated per slot. A factory or binding failure yields a
// DescriptorError and leaves that slot in its prior state; an activation
// failure yields an ActivationError and leaves the slot empty; a disposal
// failure yields a DisposalError but the handle is considered released.
// Remaining slots are still processed, and the phase returns all slot errors
// joined with errors.Join. Panics raised by factories are not recovered.
//
// Phases are synchronous and must not be called concurrently. Pushed results
// flow from the transport to observers without re-entering the reconciler.
package reconciler
