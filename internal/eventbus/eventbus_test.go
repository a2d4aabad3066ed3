package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{}

func TestBus_DispatchByType(t *testing.T) {
	b := New()
	Use(b)
	t.Cleanup(func() { Use(nil) })

	var a, c []int
	unA := Subscribe(func(_ context.Context, e ping) { a = append(a, e.n) })
	Subscribe(func(_ context.Context, e ping) { c = append(c, e.n) })
	pongs := 0
	Subscribe(func(context.Context, pong) { pongs++ })

	Publish(context.Background(), ping{1})
	unA()
	unA()
	Publish(context.Background(), ping{2})
	Publish(context.Background(), pong{})

	require.Equal(t, []int{1}, a)
	require.Equal(t, []int{1, 2}, c)
	require.Equal(t, 1, pongs)
}

func TestPublish_WithoutBus(t *testing.T) {
	Use(nil)
	called := false
	un := Subscribe(func(context.Context, ping) { called = true })
	un()
	Publish(context.Background(), ping{})
	require.False(t, called)
}
