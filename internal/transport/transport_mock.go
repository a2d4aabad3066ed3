package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hanpama/subscribe/internal/envelope"
)

// SubscribeRecord captures a single Subscribe invocation.
type SubscribeRecord struct {
	Request   *envelope.Request
	Query     string
	Variables map[string]any
	cancelled int
}

// MockTransport implements Transport by recording requests. Tests push
// results to recorded requests with Push, Fail and Complete.
type MockTransport struct {
	mu    sync.Mutex
	calls []*SubscribeRecord
	errs  []error
	idx   int
}

// NewMockTransport creates a MockTransport. For call i, if errs[i] is
// non-nil, Subscribe returns that error.
func NewMockTransport(errs ...error) *MockTransport {
	return &MockTransport{errs: append([]error(nil), errs...)}
}

// Subscribe materializes req, like a real transport would, and records it.
func (m *MockTransport) Subscribe(_ context.Context, req *envelope.Request) (Cancel, error) {
	m.mu.Lock()
	i := m.idx
	m.idx++
	m.mu.Unlock()
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}

	text, err := req.QueryText()
	if err != nil {
		return nil, err
	}
	vars, err := req.Variables()
	if err != nil {
		return nil, err
	}
	rec := &SubscribeRecord{Request: req, Query: text, Variables: vars}

	m.mu.Lock()
	m.calls = append(m.calls, rec)
	m.mu.Unlock()

	return func() error {
		m.mu.Lock()
		rec.cancelled++
		m.mu.Unlock()
		return nil
	}, nil
}

// Calls returns the recorded subscriptions in order.
func (m *MockTransport) Calls() []*SubscribeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*SubscribeRecord(nil), m.calls...)
}

// Cancelled returns how many times the cancel of call i ran.
func (m *MockTransport) Cancelled(i int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i].cancelled
}

func (m *MockTransport) record(i int) (*SubscribeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.calls) {
		return nil, fmt.Errorf("mock transport: no call %d", i)
	}
	return m.calls[i], nil
}

// Push delivers a result to call i, even if it was cancelled.
func (m *MockTransport) Push(i int, res envelope.Result) error {
	rec, err := m.record(i)
	if err != nil {
		return err
	}
	rec.Request.OnNext(res)
	return nil
}

// Fail delivers an error to call i.
func (m *MockTransport) Fail(i int, cause error) error {
	rec, err := m.record(i)
	if err != nil {
		return err
	}
	rec.Request.OnError(cause)
	return nil
}

// Complete completes call i.
func (m *MockTransport) Complete(i int, value any) error {
	rec, err := m.record(i)
	if err != nil {
		return err
	}
	rec.Request.OnCompleted(value)
	return nil
}
