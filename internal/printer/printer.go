// Package printer materializes bound subscription descriptors into the query
// text and variables sent over the wire.
package printer

import (
	"errors"
	"fmt"
	"strings"

	language "github.com/hanpama/subscribe/internal/language"
	"github.com/hanpama/subscribe/internal/subscription"
)

// PrintedQuery is the wire-level form of a subscription.
type PrintedQuery struct {
	Text          string
	OperationName string
	Variables     map[string]any
}

// Materializer prints a bound descriptor. Implementations must be pure
// functions of the descriptor.
type Materializer interface {
	Materialize(b *subscription.Bound) (*PrintedQuery, error)
}

// MaterializerFunc adapts a function to Materializer.
type MaterializerFunc func(b *subscription.Bound) (*PrintedQuery, error)

func (f MaterializerFunc) Materialize(b *subscription.Bound) (*PrintedQuery, error) { return f(b) }

var (
	ErrNoSubscription        = errors.New("printer: document has no subscription operation")
	ErrAmbiguousSubscription = errors.New("printer: document has several subscription operations")
)

// GraphQL materializes descriptors by parsing their document, selecting the
// subscription operation and coercing variables against its definitions.
type GraphQL struct{}

// New returns the GraphQL materializer.
func New() *GraphQL { return &GraphQL{} }

func (GraphQL) Materialize(b *subscription.Bound) (*PrintedQuery, error) {
	if b == nil {
		return nil, errors.New("printer: descriptor is nil")
	}
	doc, err := language.ParseQuery(b.Query())
	if err != nil {
		return nil, fmt.Errorf("printer: %s: %w", b.Kind(), err)
	}
	op, err := selectOperation(doc, string(b.Kind()))
	if err != nil {
		return nil, fmt.Errorf("printer: %s: %w", b.Kind(), err)
	}
	vars, err := coerceVariableValues(op, b.Variables())
	if err != nil {
		return nil, fmt.Errorf("printer: %s: %w", b.Kind(), err)
	}
	return &PrintedQuery{
		Text:          language.PrintQuery(op, doc.Fragments),
		OperationName: op.Name,
		Variables:     vars,
	}, nil
}

// selectOperation picks the subscription operation named after the kind, or
// the only subscription operation in the document.
func selectOperation(doc *language.QueryDocument, kind string) (*language.OperationDefinition, error) {
	var subs []*language.OperationDefinition
	for _, op := range doc.Operations {
		if op.Operation != language.Subscription {
			continue
		}
		if op.Name != "" && strings.EqualFold(op.Name, kind) {
			return op, nil
		}
		subs = append(subs, op)
	}
	switch len(subs) {
	case 0:
		return nil, ErrNoSubscription
	case 1:
		return subs[0], nil
	default:
		return nil, ErrAmbiguousSubscription
	}
}
