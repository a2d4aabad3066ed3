package reconciler

import (
	"context"
	"fmt"
	"sync"

	"github.com/hanpama/subscribe/internal/envelope"
	"github.com/hanpama/subscribe/internal/subscription"
)

// MockHandle is the Disposable returned by MockActivator.
type MockHandle struct {
	ID       int
	Kind     string
	Observer envelope.Observer
	Trigger  Trigger

	mu       sync.Mutex
	disposed int
	err      error
	panics   bool
	fired    []*subscription.Subscription
	parent   *MockActivator
}

// FailDispose makes Dispose return err.
func (h *MockHandle) FailDispose(err error) { h.mu.Lock(); h.err = err; h.mu.Unlock() }

// PanicOnDispose makes Dispose panic.
func (h *MockHandle) PanicOnDispose() { h.mu.Lock(); h.panics = true; h.mu.Unlock() }

// Disposed returns how many times Dispose was called.
func (h *MockHandle) Disposed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

// Fired returns the descriptors produced by Fire calls.
func (h *MockHandle) Fired() []*subscription.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*subscription.Subscription(nil), h.fired...)
}

func (h *MockHandle) Dispose() error {
	h.mu.Lock()
	h.disposed++
	err, panics := h.err, h.panics
	h.mu.Unlock()
	h.parent.log(fmt.Sprintf("dispose:%d:%s", h.ID, h.Kind))
	if panics {
		panic("dispose")
	}
	return err
}

// Fire calls the manual trigger and records its descriptor.
func (h *MockHandle) Fire(_ context.Context, arg any) error {
	if h.Trigger == nil {
		return ErrNotFireable
	}
	sub, err := h.Trigger(arg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.fired = append(h.fired, sub)
	h.mu.Unlock()
	return nil
}

// MockActivator implements Activator, recording every activation and
// disposal in order.
type MockActivator struct {
	mu      sync.Mutex
	nextID  int
	handles []*MockHandle
	ops     []string
	fail    func(b *subscription.Bound) error
}

func NewMockActivator() *MockActivator { return &MockActivator{} }

// FailWhen makes declarative activation fail when f returns an error.
func (m *MockActivator) FailWhen(f func(b *subscription.Bound) error) {
	m.mu.Lock()
	m.fail = f
	m.mu.Unlock()
}

func (m *MockActivator) ActivateDeclarative(_ context.Context, b *subscription.Bound, observer envelope.Observer) (Disposable, error) {
	m.mu.Lock()
	fail := m.fail
	m.mu.Unlock()
	if fail != nil {
		if err := fail(b); err != nil {
			return nil, err
		}
	}
	h := m.newHandle(string(b.Kind()), observer, nil)
	m.log(fmt.Sprintf("activate:%d:%s", h.ID, h.Kind))
	return h, nil
}

func (m *MockActivator) ActivateManual(_ context.Context, trigger Trigger, observer envelope.Observer) (Disposable, error) {
	h := m.newHandle("manual", observer, trigger)
	m.log(fmt.Sprintf("activate:%d:%s", h.ID, h.Kind))
	return h, nil
}

func (m *MockActivator) newHandle(kind string, observer envelope.Observer, trigger Trigger) *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := &MockHandle{ID: m.nextID, Kind: kind, Observer: observer, Trigger: trigger, parent: m}
	m.handles = append(m.handles, h)
	return h
}

func (m *MockActivator) log(op string) {
	m.mu.Lock()
	m.ops = append(m.ops, op)
	m.mu.Unlock()
}

// Handles returns every handle created so far, in activation order.
func (m *MockActivator) Handles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockHandle(nil), m.handles...)
}

// Ops returns the ordered log of "activate:<id>:<kind>" and
// "dispose:<id>:<kind>" entries.
func (m *MockActivator) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// Reset clears the operation log.
func (m *MockActivator) Reset() {
	m.mu.Lock()
	m.ops = nil
	m.mu.Unlock()
}
