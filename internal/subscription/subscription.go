// Package subscription defines declarative subscription descriptors.
//
// A Subscription is the raw value a factory produces from its inputs. It cannot
// be compared or printed until it is bound to an Environment; Bind resolves its
// variables and returns a Bound descriptor, which is the only form the rest of
// the module accepts for equality checks, materialization and activation.
package subscription

import (
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// Kind identifies the type of a subscription. Descriptors of different kinds
// never compare equal.
type Kind string

// Environment resolves named values that descriptor variables may depend on.
type Environment interface {
	Lookup(key string) (any, bool)
}

// Values is an Environment backed by a fixed map.
type Values map[string]any

func (v Values) Lookup(key string) (any, bool) {
	val, ok := v[key]
	return val, ok
}

// VariablesFunc computes a descriptor's variables against an environment.
type VariablesFunc func(env Environment) (map[string]any, error)

var (
	ErrNoEnvironment = errors.New("subscription: environment is nil")
	ErrNoKind        = errors.New("subscription: kind is empty")
)

// Subscription is an immutable, unbound descriptor.
type Subscription struct {
	kind      Kind
	query     string
	variables VariablesFunc

	bound *Bound
}

// New creates a descriptor of the given kind. query is the GraphQL document
// containing the subscription operation; vars may be nil when the operation
// takes no variables.
func New(kind Kind, query string, vars VariablesFunc) *Subscription {
	return &Subscription{kind: kind, query: query, variables: vars}
}

// Static creates a descriptor whose variables do not depend on the environment.
func Static(kind Kind, query string, vars map[string]any) *Subscription {
	return New(kind, query, func(Environment) (map[string]any, error) { return vars, nil })
}

func (s *Subscription) Kind() Kind    { return s.kind }
func (s *Subscription) Query() string { return s.query }

// Bind resolves the descriptor's variables against env. The first successful
// call is memoized; later calls return the same Bound regardless of env.
func (s *Subscription) Bind(env Environment) (*Bound, error) {
	if s.bound != nil {
		return s.bound, nil
	}
	if s.kind == "" {
		return nil, ErrNoKind
	}
	if env == nil {
		return nil, ErrNoEnvironment
	}
	vars := map[string]any{}
	if s.variables != nil {
		v, err := s.variables(env)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: resolve variables: %w", s.kind, err)
		}
		if v != nil {
			vars = v
		}
	}
	s.bound = &Bound{origin: s, env: env, variables: vars}
	return s.bound, nil
}

// Bound is a descriptor whose variables have been resolved.
type Bound struct {
	origin    *Subscription
	env       Environment
	variables map[string]any
}

func (b *Bound) Kind() Kind                { return b.origin.kind }
func (b *Bound) Query() string             { return b.origin.query }
func (b *Bound) Environment() Environment  { return b.env }
func (b *Bound) Variables() map[string]any { return b.variables }

// Origin returns the descriptor b was bound from.
func (b *Bound) Origin() *Subscription { return b.origin }

// Equal reports whether b and o describe the same subscription: same kind and
// deep-equal variables. Two nil descriptors are equal.
func (b *Bound) Equal(o *Bound) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.Kind() != o.Kind() {
		return false
	}
	return cmp.Equal(b.variables, o.variables)
}
