// Package statemachine implements a stateless finite-state-machine table.
//
// A Table holds no current state. Callers pass the state they loaded from storage
// together with an event, and Fire returns the next state after checking the
// allow-list, evaluating guards and running actions. This fits records whose
// state lives in a database row and is mutated by many concurrent requests.
//
//	tbl, err := statemachine.NewBuilder[Status, Status]().
//		From(StatusActive).When(StatusPastDue).To(StatusPastDue).Add().
//		From(StatusPastDue).When(StatusActive).To(StatusActive).WithGuard(paid).Add().
//		Build()
//
//	next, err := tbl.Fire(ctx, current, StatusPastDue, payload)
//	if statemachine.IsNoTransitionAvailableError(err) {
//		// not allow-listed
//	}
package statemachine
