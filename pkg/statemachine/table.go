// Package statemachine holds a small, typed legal-transition table.
package statemachine

import (
	"fmt"
	"sort"
)

// Outcome is the result of evaluating an action against a state.
type Outcome int

const (
	// Move means the action performs a real transition.
	Move Outcome = iota + 1
	// NoOp means the entity is already where the action would put it.
	NoOp
	// Reject means the action is illegal from the current state.
	Reject
)

// Result carries the evaluated outcome. Next is set for Move and NoOp, Err for Reject.
type Result[S ~string] struct {
	Outcome Outcome
	Next    S
	Err     error
}

type key[S ~string, A ~string] struct {
	state  S
	action A
}

type entry[S ~string] struct {
	outcome Outcome
	next    S
	err     error
}

// Table maps (state, action) pairs to a Result. Pairs that were never registered
// reject with the fallback produced by the table's Unknown func.
type Table[S ~string, A ~string] struct {
	entity  string
	entries map[key[S, A]]entry[S]
	unknown func(state S, action A) error
}

// New creates an empty table for the named entity.
func New[S ~string, A ~string](entity string) *Table[S, A] {
	return &Table[S, A]{
		entity:  entity,
		entries: map[key[S, A]]entry[S]{},
		unknown: func(state S, action A) error {
			return fmt.Errorf("%s: %s not allowed from %s", entity, action, state)
		},
	}
}

// Entity returns the name the table was created with.
func (t *Table[S, A]) Entity() string {
	return t.entity
}

// Allow registers a real transition from each of froms to next.
func (t *Table[S, A]) Allow(action A, next S, froms ...S) *Table[S, A] {
	for _, from := range froms {
		t.entries[key[S, A]{from, action}] = entry[S]{outcome: Move, next: next}
	}
	return t
}

// Idle registers states where the action is already satisfied.
func (t *Table[S, A]) Idle(action A, states ...S) *Table[S, A] {
	for _, s := range states {
		t.entries[key[S, A]{s, action}] = entry[S]{outcome: NoOp, next: s}
	}
	return t
}

// Deny registers a specific rejection for the action from each of states.
func (t *Table[S, A]) Deny(action A, err error, states ...S) *Table[S, A] {
	for _, s := range states {
		t.entries[key[S, A]{s, action}] = entry[S]{outcome: Reject, err: err}
	}
	return t
}

// Otherwise overrides the rejection used for unregistered pairs.
func (t *Table[S, A]) Otherwise(fn func(state S, action A) error) *Table[S, A] {
	if fn != nil {
		t.unknown = fn
	}
	return t
}

// Eval resolves action against the current state.
func (t *Table[S, A]) Eval(state S, action A) Result[S] {
	e, ok := t.entries[key[S, A]{state, action}]
	if !ok {
		return Result[S]{Outcome: Reject, Err: t.unknown(state, action)}
	}
	return Result[S]{Outcome: e.outcome, Next: e.next, Err: e.err}
}

// Next is Eval reduced to the destination state; NoOp returns the current state.
func (t *Table[S, A]) Next(state S, action A) (S, error) {
	res := t.Eval(state, action)
	if res.Outcome == Reject {
		var zero S
		return zero, res.Err
	}
	return res.Next, nil
}

// Sources lists the states from which action performs a real transition, sorted
// for stable SQL.
func (t *Table[S, A]) Sources(action A) []S {
	out := []S{}
	for k, e := range t.entries {
		if k.action == action && e.outcome == Move {
			out = append(out, k.state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Target returns the destination of action. Tables register one destination per
// action, so the first Move found is authoritative.
func (t *Table[S, A]) Target(action A) (S, bool) {
	for k, e := range t.entries {
		if k.action == action && e.outcome == Move {
			return e.next, true
		}
	}
	var zero S
	return zero, false
}
