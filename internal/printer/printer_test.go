package printer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/subscribe/internal/subscription"
)

func bind(t *testing.T, kind subscription.Kind, query string, vars map[string]any) *subscription.Bound {
	t.Helper()
	b, err := subscription.Static(kind, query, vars).Bind(subscription.Values{})
	require.NoError(t, err)
	return b
}

func TestMaterialize_TextAndVariables(t *testing.T) {
	q := `
		subscription CommentAdded($input: CommentAddedInput!, $limit: Int = 10, $unused: String) {
			commentAdded(input: $input) { comment { id body } }
		}`
	b := bind(t, "CommentAdded", q, map[string]any{
		"input": map[string]any{"clientSubscriptionId": "c1", "postId": "p1"},
		"extra": "dropped",
	})

	got, err := New().Materialize(b)
	require.NoError(t, err)

	want := map[string]any{
		"input": map[string]any{"clientSubscriptionId": "c1", "postId": "p1"},
		"limit": 10,
	}
	if diff := cmp.Diff(want, got.Variables); diff != "" {
		t.Fatalf("variables mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "CommentAdded", got.OperationName)
	require.Contains(t, got.Text, "subscription CommentAdded")
	require.Contains(t, got.Text, "commentAdded(input: $input)")
}

func TestMaterialize_SelectsOperationByKind(t *testing.T) {
	q := `subscription A { a } subscription B { b } query Q { q }`
	got, err := New().Materialize(bind(t, "B", q, nil))
	require.NoError(t, err)
	require.Equal(t, "B", got.OperationName)
	require.NotContains(t, got.Text, "subscription A")
}

func TestMaterialize_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		vars  map[string]any
		is    error
	}{
		{name: "syntax", query: "subscription {"},
		{name: "no subscription", query: "query Q { a }", is: ErrNoSubscription},
		{name: "ambiguous", query: "subscription A { a } subscription C { c }", is: ErrAmbiguousSubscription},
		{name: "missing required", query: "subscription S($id: ID!) { s(id: $id) }"},
		{name: "null required", query: "subscription S($id: ID!) { s(id: $id) }", vars: map[string]any{"id": nil}},
		{name: "bad scalar", query: "subscription S($n: Int) { s(n: $n) }", vars: map[string]any{"n": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Materialize(bind(t, "S", tt.query, tt.vars))
			require.Error(t, err)
			if tt.is != nil {
				require.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestCoerceValue_Lists(t *testing.T) {
	q := `subscription S($ids: [ID!]) { s(ids: $ids) }`
	got, err := New().Materialize(bind(t, "S", q, map[string]any{"ids": []any{1, "2"}}))
	require.NoError(t, err)
	require.Equal(t, []any{"1", "2"}, got.Variables["ids"])

	got, err = New().Materialize(bind(t, "S", q, map[string]any{"ids": 3}))
	require.NoError(t, err)
	require.Equal(t, []any{"3"}, got.Variables["ids"])
}

func TestCoerceValue_IDFromJSONNumber(t *testing.T) {
	q := `subscription S($id: ID!) { s(id: $id) }`
	got, err := New().Materialize(bind(t, "S", q, map[string]any{"id": 3.0}))
	require.NoError(t, err)
	require.Equal(t, "3", got.Variables["id"])

	_, err = New().Materialize(bind(t, "S", q, map[string]any{"id": 3.5}))
	require.ErrorContains(t, err, "to ID")
}
