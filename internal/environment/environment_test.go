package environment

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/subscribe/internal/envelope"
	"github.com/hanpama/subscribe/internal/reconciler"
	"github.com/hanpama/subscribe/internal/subscription"
	"github.com/hanpama/subscribe/internal/transport"
)

const commentAdded = `
subscription CommentAdded($input: CommentAddedInput!) {
	commentAdded(input: $input) { comment { id } }
}`

type post struct{ id string }

func commentFactory(p post) (*subscription.Subscription, error) {
	if p.id == "" {
		return nil, nil
	}
	return subscription.New("CommentAdded", commentAdded, func(env subscription.Environment) (map[string]any, error) {
		viewer, _ := env.Lookup("viewer")
		return map[string]any{"input": map[string]any{
			"clientSubscriptionId": "c-" + p.id,
			"postId":               p.id,
			"viewer":               viewer,
		}}, nil
	}), nil
}

type recorder struct {
	next      []string
	errs      []error
	completed int
}

func (r *recorder) observer() envelope.Observer {
	return envelope.ObserverFuncs{
		Next:      func(res envelope.Result) { r.next = append(r.next, string(res.Data)) },
		Error:     func(err error) { r.errs = append(r.errs, err) },
		Completed: func(any) { r.completed++ },
	}
}

func TestReconcilerOverMockTransport(t *testing.T) {
	mt := transport.NewMockTransport()
	env := New(WithTransport(mt), WithValues(subscription.Values{"viewer": "u1"}))
	rec := &recorder{}
	r := reconciler.New("Post", env, env,
		reconciler.Declarations[post]{Subscriptions: []reconciler.Factory[post]{commentFactory}},
		reconciler.WithObserver(func(reconciler.Slot, *subscription.Bound) envelope.Observer { return rec.observer() }),
	)
	ctx := context.Background()

	require.NoError(t, r.Attach(ctx, post{id: "p1"}))
	calls := mt.Calls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].Query, "subscription CommentAdded")
	require.Equal(t, map[string]any{"input": map[string]any{
		"clientSubscriptionId": "c-p1", "postId": "p1", "viewer": "u1",
	}}, calls[0].Variables)
	id, err := calls[0].Request.ClientSubscriptionID()
	require.NoError(t, err)
	require.Equal(t, "c-p1", id)

	require.NoError(t, mt.Push(0, envelope.Result{Data: json.RawMessage(`{"n":1}`)}))

	require.NoError(t, r.InputsChanged(ctx, post{id: "p1"}))
	require.Len(t, mt.Calls(), 1)

	require.NoError(t, r.InputsChanged(ctx, post{id: "p2"}))
	require.Len(t, mt.Calls(), 2)
	require.Equal(t, 1, mt.Cancelled(0))

	// in-flight result for the replaced subscription is dropped
	require.NoError(t, mt.Push(0, envelope.Result{Data: json.RawMessage(`{"n":2}`)}))
	require.NoError(t, mt.Push(1, envelope.Result{Data: json.RawMessage(`{"n":3}`)}))
	require.NoError(t, mt.Fail(1, errors.New("stream reset")))

	require.NoError(t, r.Detach(ctx))
	require.Equal(t, 1, mt.Cancelled(1))
	require.NoError(t, mt.Complete(1, nil))

	require.Equal(t, []string{`{"n":1}`, `{"n":3}`}, rec.next)
	require.Len(t, rec.errs, 1)
	require.Equal(t, 0, rec.completed)
}

func TestActivate_MaterializationErrorIsActivationError(t *testing.T) {
	mt := transport.NewMockTransport()
	env := New(WithTransport(mt))
	bad := func(post) (*subscription.Subscription, error) {
		return subscription.Static("Broken", "query Q { a }", nil), nil
	}
	r := reconciler.New("Post", env, env, reconciler.Declarations[post]{Subscriptions: []reconciler.Factory[post]{bad}})

	err := r.Attach(context.Background(), post{})
	var ae *reconciler.ActivationError
	require.ErrorAs(t, err, &ae)
	_, _, ok := r.Active(0)
	require.False(t, ok)
	require.Empty(t, mt.Calls())
}

func TestActivate_NoTransport(t *testing.T) {
	env := New()
	_, err := env.Subscribe(context.Background(), subscription.Static("S", commentAdded, nil), nil)
	require.ErrorIs(t, err, ErrNoTransport)
	_, err = env.ActivateManual(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrNoTransport)
}

func TestHandle_DisposeIdempotent(t *testing.T) {
	mt := transport.NewMockTransport()
	env := New(WithTransport(mt))
	sub, err := commentFactory(post{id: "p"})
	require.NoError(t, err)
	d, err := env.Subscribe(context.Background(), sub, nil)
	require.NoError(t, err)

	require.NoError(t, d.Dispose())
	require.NoError(t, d.Dispose())
	require.Equal(t, 1, mt.Cancelled(0))
}

func TestManualChannel(t *testing.T) {
	mt := transport.NewMockTransport()
	env := New(WithTransport(mt))
	rec := &recorder{}
	r := reconciler.New("Post", env, env,
		reconciler.Declarations[post]{ManualSubscriptions: []reconciler.ManualFactory[post]{
			func(p post, arg any) (*subscription.Subscription, error) {
				if arg == nil {
					return nil, nil
				}
				return commentFactory(post{id: p.id + "-" + arg.(string)})
			},
		}},
		reconciler.WithObserver(func(reconciler.Slot, *subscription.Bound) envelope.Observer { return rec.observer() }),
	)
	ctx := context.Background()
	require.NoError(t, r.Attach(ctx, post{id: "p"}))
	require.Empty(t, mt.Calls())

	require.NoError(t, r.Fire(ctx, 0, nil))
	require.Empty(t, mt.Calls())

	require.NoError(t, r.InputsChanged(ctx, post{id: "q"}))
	require.NoError(t, r.Fire(ctx, 0, "a"))
	require.NoError(t, r.Fire(ctx, 0, "b"))
	calls := mt.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "q-a", calls[0].Variables["input"].(map[string]any)["postId"])

	require.NoError(t, mt.Push(1, envelope.Result{Data: json.RawMessage(`1`)}))

	h, ok := r.Manual(0)
	require.True(t, ok)
	require.NoError(t, r.Detach(ctx))
	require.Equal(t, 1, mt.Cancelled(0))
	require.Equal(t, 1, mt.Cancelled(1))
	require.ErrorIs(t, h.(*Channel).Fire(ctx, "c"), ErrClosed)
	require.Equal(t, []string{"1"}, rec.next)
}

func TestHandle_DisposeWaitsForDeliveryInFlight(t *testing.T) {
	mt := transport.NewMockTransport()
	env := New(WithTransport(mt))

	entered := make(chan struct{})
	release := make(chan struct{})
	var delivered atomic.Int32
	obs := envelope.ObserverFuncs{Next: func(envelope.Result) {
		if delivered.Add(1) == 1 {
			close(entered)
			<-release
		}
	}}
	sub, err := commentFactory(post{id: "p"})
	require.NoError(t, err)
	d, err := env.Subscribe(context.Background(), sub, obs)
	require.NoError(t, err)

	go func() { _ = mt.Push(0, envelope.Result{Data: json.RawMessage(`1`)}) }()
	<-entered

	disposed := make(chan error, 1)
	go func() { disposed <- d.Dispose() }()
	require.Never(t, func() bool { return len(disposed) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	select {
	case err := <-disposed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispose did not return after delivery finished")
	}

	require.NoError(t, mt.Push(0, envelope.Result{Data: json.RawMessage(`2`)}))
	require.NoError(t, mt.Fail(0, errors.New("late")))
	require.Equal(t, int32(1), delivered.Load())
	require.Equal(t, 1, mt.Cancelled(0))
}
