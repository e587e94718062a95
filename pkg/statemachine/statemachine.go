package statemachine

import (
	"context"
	"fmt"
)

// Guard reports whether a transition may proceed for the given payload.
type Guard[S, E comparable] func(ctx context.Context, from S, event E, data any) bool

// Action runs before a transition is reported as done. An error aborts it.
type Action[S, E comparable] func(ctx context.Context, from, to S, event E, data any) error

type Transition[S, E comparable] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E]
	Actions []Action[S, E]
}

// Table is an immutable allow-list of transitions keyed by (from, event).
// It is safe for concurrent use once built.
type Table[S, E comparable] struct {
	transitions map[S]map[E][]Transition[S, E]
}

// Fire resolves the transition for (from, event). The first transition whose
// guards all pass wins.
func (t *Table[S, E]) Fire(ctx context.Context, from S, event E, data any) (S, error) {
	tr, err := t.find(ctx, from, event, data)
	if err != nil {
		return from, err
	}
	for _, action := range tr.Actions {
		if err := action(ctx, from, tr.To, event, data); err != nil {
			return from, fmt.Errorf("action failed: %w", err)
		}
	}
	return tr.To, nil
}

// CanFire reports whether Fire would find a transition, without running actions.
func (t *Table[S, E]) CanFire(ctx context.Context, from S, event E, data any) bool {
	_, err := t.find(ctx, from, event, data)
	return err == nil
}

// Targets lists the states reachable from 'from' ignoring guards.
func (t *Table[S, E]) Targets(from S) []S {
	var out []S
	seen := make(map[S]struct{})
	for _, trs := range t.transitions[from] {
		for _, tr := range trs {
			if _, ok := seen[tr.To]; ok {
				continue
			}
			seen[tr.To] = struct{}{}
			out = append(out, tr.To)
		}
	}
	return out
}

func (t *Table[S, E]) find(ctx context.Context, from S, event E, data any) (*Transition[S, E], error) {
	trs := t.transitions[from][event]
	if len(trs) == 0 {
		return nil, NewErrNoTransitionAvailable(fmt.Sprint(from), fmt.Sprint(event))
	}
	for i := range trs {
		if guardsPass(ctx, trs[i].Guards, from, event, data) {
			return &trs[i], nil
		}
	}
	return nil, NewErrTransitionRejected(fmt.Sprint(from), fmt.Sprint(event))
}

func guardsPass[S, E comparable](ctx context.Context, guards []Guard[S, E], from S, event E, data any) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
