package reqid

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background())
	got, ok := FromContext(ctx)
	if !ok || got != id {
		t.Fatalf("expected %s from context, got %s ok=%v", id, got, ok)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("id %q is not a uuid: %v", id, err)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected id in empty context")
	}
	nested, other := NewContext(ctx)
	if got, _ := FromContext(nested); got != other || other == id {
		t.Fatalf("nested context should carry a new id")
	}
}
