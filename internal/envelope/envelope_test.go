package envelope

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/subscribe/internal/printer"
	"github.com/hanpama/subscribe/internal/subscription"
)

const query = `subscription Ping($input: PingInput!) { ping(input: $input) { at } }`

type countingMaterializer struct {
	calls int
	fail  error
}

func (m *countingMaterializer) Materialize(b *subscription.Bound) (*printer.PrintedQuery, error) {
	m.calls++
	if m.fail != nil {
		return nil, m.fail
	}
	return &printer.PrintedQuery{Text: b.Query(), Variables: b.Variables()}, nil
}

func bound(t *testing.T, vars map[string]any) *subscription.Bound {
	t.Helper()
	b, err := subscription.Static("Ping", query, vars).Bind(subscription.Values{})
	require.NoError(t, err)
	return b
}

func TestRequest_MaterializesOnce(t *testing.T) {
	m := &countingMaterializer{}
	vars := map[string]any{"input": map[string]any{"clientSubscriptionId": "1"}}
	r := New(bound(t, vars), nil, m)

	for i := 0; i < 3; i++ {
		text, err := r.QueryText()
		require.NoError(t, err)
		require.Equal(t, query, text)
		v, err := r.Variables()
		require.NoError(t, err)
		require.Equal(t, vars, v)
	}
	require.Equal(t, 1, m.calls)
}

func TestRequest_FailedMaterializationRetries(t *testing.T) {
	m := &countingMaterializer{fail: errors.New("malformed")}
	r := New(bound(t, nil), nil, m)

	_, err := r.Variables()
	require.EqualError(t, err, "malformed")
	_, err = r.QueryText()
	require.Error(t, err)
	require.Equal(t, 2, m.calls)

	m.fail = nil
	_, err = r.QueryText()
	require.NoError(t, err)
	_, err = r.Variables()
	require.NoError(t, err)
	require.Equal(t, 3, m.calls)
}

func TestRequest_DefaultMaterializer(t *testing.T) {
	r := New(bound(t, map[string]any{"input": map[string]any{"clientSubscriptionId": "1"}}), nil, nil)
	name, err := r.OperationName()
	require.NoError(t, err)
	require.Equal(t, "Ping", name)
}

func TestRequest_ClientSubscriptionID(t *testing.T) {
	r := New(bound(t, map[string]any{"input": map[string]any{"clientSubscriptionId": "abc"}}), nil, nil)
	id, err := r.ClientSubscriptionID()
	require.NoError(t, err)
	require.Equal(t, "abc", id)

	for _, vars := range []map[string]any{
		nil,
		{"input": "x"},
		{"input": map[string]any{}},
		{"input": map[string]any{"clientSubscriptionId": 7}},
	} {
		_, err := New(bound(t, vars), nil, nil).ClientSubscriptionID()
		require.ErrorIs(t, err, ErrMissingClientID)
	}
}

func TestRequest_IdentityAndDebugName(t *testing.T) {
	sub := subscription.Static("Ping", query, nil)
	b, err := sub.Bind(subscription.Values{})
	require.NoError(t, err)
	r := New(b, nil, nil)

	other := subscription.Static("Ping", query, nil)
	_, err = other.Bind(subscription.Values{})
	require.NoError(t, err)

	require.Same(t, sub, r.OriginalSubscription())
	require.Equal(t, "Ping", r.DebugName())
}

func TestRequest_ForwardsInOrder(t *testing.T) {
	var got []string
	obs := ObserverFuncs{
		Next:      func(p Result) { got = append(got, "next:"+string(p.Data)) },
		Error:     func(err error) { got = append(got, "error:"+err.Error()) },
		Completed: func(v any) { got = append(got, "completed") },
	}
	r := New(bound(t, nil), obs, nil)
	r.OnNext(Result{Data: json.RawMessage(`1`)})
	r.OnNext(Result{Data: json.RawMessage(`2`)})
	r.OnError(errors.New("e"))
	r.OnCompleted(nil)

	require.Equal(t, []string{"next:1", "next:2", "error:e", "completed"}, got)
}
