package statemachine

// Builder assembles a Table with a fluent API. Errors are collected and
// reported by Build.
type Builder[S, E comparable] struct {
	table   *Table[S, E]
	pending *Transition[S, E]
	err     error
}

func NewBuilder[S, E comparable]() *Builder[S, E] {
	return &Builder[S, E]{table: &Table[S, E]{transitions: make(map[S]map[E][]Transition[S, E])}}
}

func (b *Builder[S, E]) From(state S) *Builder[S, E] {
	if b.pending != nil && b.err == nil {
		b.err = ErrIncompleteTransition
	}
	b.pending = &Transition[S, E]{From: state}
	return b
}

func (b *Builder[S, E]) When(event E) *Builder[S, E] {
	if b.pending == nil {
		b.err = ErrIncompleteTransition
		return b
	}
	b.pending.Event = event
	return b
}

func (b *Builder[S, E]) To(state S) *Builder[S, E] {
	if b.pending == nil {
		b.err = ErrIncompleteTransition
		return b
	}
	b.pending.To = state
	return b
}

func (b *Builder[S, E]) WithGuard(g Guard[S, E]) *Builder[S, E] {
	if b.pending != nil && g != nil {
		b.pending.Guards = append(b.pending.Guards, g)
	}
	return b
}

func (b *Builder[S, E]) WithAction(a Action[S, E]) *Builder[S, E] {
	if b.pending != nil && a != nil {
		b.pending.Actions = append(b.pending.Actions, a)
	}
	return b
}

// Add commits the pending transition.
func (b *Builder[S, E]) Add() *Builder[S, E] {
	if b.pending == nil {
		if b.err == nil {
			b.err = ErrIncompleteTransition
		}
		return b
	}
	b.add(*b.pending)
	b.pending = nil
	return b
}

// Allow adds an unguarded transition from 'from' to 'to' triggered by event.
func (b *Builder[S, E]) Allow(from S, event E, to S) *Builder[S, E] {
	b.add(Transition[S, E]{From: from, Event: event, To: to})
	return b
}

func (b *Builder[S, E]) add(tr Transition[S, E]) {
	byEvent, ok := b.table.transitions[tr.From]
	if !ok {
		byEvent = make(map[E][]Transition[S, E])
		b.table.transitions[tr.From] = byEvent
	}
	byEvent[tr.Event] = append(byEvent[tr.Event], tr)
}

func (b *Builder[S, E]) Build() (*Table[S, E], error) {
	if b.pending != nil && b.err == nil {
		b.err = ErrIncompleteTransition
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.table, nil
}

// MustBuild is Build for package-level tables declared at init time.
func (b *Builder[S, E]) MustBuild() *Table[S, E] {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
