// Package wstp implements transport.Transport with the graphql-transport-ws
// protocol over a single websocket connection. Subscriptions are multiplexed
// by their client subscription id.
package wstp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanpama/subscribe/internal/envelope"
	language "github.com/hanpama/subscribe/internal/language"
	"github.com/hanpama/subscribe/internal/transport"
)

// Subprotocol is the websocket subprotocol negotiated with the server.
const Subprotocol = "graphql-transport-ws"

const (
	typeConnectionInit = "connection_init"
	typeConnectionAck  = "connection_ack"
	typePing           = "ping"
	typePong           = "pong"
	typeSubscribe      = "subscribe"
	typeNext           = "next"
	typeError          = "error"
	typeComplete       = "complete"
)

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Transport is a graphql-transport-ws client.
type Transport struct {
	opts *Options
	conn *websocket.Conn

	wmu sync.Mutex // serializes writes

	mu     sync.Mutex
	active map[string]*envelope.Request

	closed atomic.Bool
	done   chan struct{}
	err    error // terminal read error, set before done is closed
}

var _ transport.Transport = (*Transport)(nil)

// Dial connects to url and completes the connection_init handshake.
func Dial(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	d := *o.Dialer
	d.Subprotocols = []string{Subprotocol}
	d.HandshakeTimeout = o.HandshakeTimeout

	conn, _, err := d.DialContext(ctx, url, o.Header)
	if err != nil {
		return nil, fmt.Errorf("wstp: dial %s: %w", url, err)
	}
	t := &Transport{
		opts:   o,
		conn:   conn,
		active: make(map[string]*envelope.Request),
		done:   make(chan struct{}),
	}
	if err := t.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) handshake(ctx context.Context) error {
	init := message{Type: typeConnectionInit}
	if t.opts.InitPayload != nil {
		p, err := json.Marshal(t.opts.InitPayload)
		if err != nil {
			return fmt.Errorf("wstp: init payload: %w", err)
		}
		init.Payload = p
	}
	if err := t.write(init); err != nil {
		return err
	}

	deadline := time.Now().Add(t.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetReadDeadline(deadline)
	defer t.conn.SetReadDeadline(time.Time{})
	for {
		var msg message
		if err := t.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		switch msg.Type {
		case typeConnectionAck:
			return nil
		case typePing:
			if err := t.write(message{Type: typePong}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: got %q", ErrHandshake, msg.Type)
		}
	}
}

// Subscribe sends req under its client subscription id.
func (t *Transport) Subscribe(_ context.Context, req *envelope.Request) (transport.Cancel, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	id, err := req.ClientSubscriptionID()
	if err != nil {
		return nil, err
	}
	text, err := req.QueryText()
	if err != nil {
		return nil, err
	}
	vars, err := req.Variables()
	if err != nil {
		return nil, err
	}
	name, err := req.OperationName()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(subscribePayload{OperationName: name, Query: text, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("wstp: encode %s: %w", req.DebugName(), err)
	}

	t.mu.Lock()
	if _, dup := t.active[id]; dup {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	t.active[id] = req
	t.mu.Unlock()

	if err := t.write(message{ID: id, Type: typeSubscribe, Payload: payload}); err != nil {
		t.remove(id, req)
		return nil, err
	}

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			if t.remove(id, req) && !t.closed.Load() {
				err = t.write(message{ID: id, Type: typeComplete})
			}
		})
		return err
	}, nil
}

// Close closes the connection. Active subscriptions receive ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.wmu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(t.opts.WriteTimeout))
	t.wmu.Unlock()
	err := t.conn.Close()
	<-t.done
	return err
}

// Done is closed when the connection's read loop exits.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err returns why the read loop exited, once Done is closed.
func (t *Transport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// ---------------- internals ----------------

func (t *Transport) write(msg message) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.opts.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	}
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("wstp: write %s: %w", msg.Type, err)
	}
	return nil
}

func (t *Transport) readLoop() {
	for {
		var msg message
		if err := t.conn.ReadJSON(&msg); err != nil {
			t.fail(err)
			return
		}
		t.dispatch(msg)
	}
}

func (t *Transport) dispatch(msg message) {
	switch msg.Type {
	case typePing:
		_ = t.write(message{Type: typePong})
	case typeNext:
		req := t.lookup(msg.ID)
		if req == nil {
			return
		}
		var res envelope.Result
		if err := json.Unmarshal(msg.Payload, &res); err != nil {
			req.OnError(fmt.Errorf("wstp: decode next: %w", err))
			return
		}
		req.OnNext(res)
	case typeError:
		req := t.lookup(msg.ID)
		if req == nil || !t.remove(msg.ID, req) {
			return
		}
		var errs language.ErrorList
		if err := json.Unmarshal(msg.Payload, &errs); err != nil {
			req.OnError(fmt.Errorf("wstp: decode error: %w", err))
			return
		}
		req.OnError(errs)
	case typeComplete:
		req := t.lookup(msg.ID)
		if req == nil || !t.remove(msg.ID, req) {
			return
		}
		req.OnCompleted(nil)
	}
}

// fail ends every active subscription after the connection is lost.
func (t *Transport) fail(cause error) {
	if t.closed.Load() {
		cause = ErrClosed
	} else {
		cause = fmt.Errorf("wstp: connection lost: %w", cause)
	}
	t.mu.Lock()
	active := t.active
	t.active = make(map[string]*envelope.Request)
	t.mu.Unlock()
	for _, req := range active {
		req.OnError(cause)
	}
	t.err = cause
	close(t.done)
}

func (t *Transport) lookup(id string) *envelope.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[id]
}

func (t *Transport) remove(id string, req *envelope.Request) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[id] != req {
		return false
	}
	delete(t.active, id)
	return true
}
