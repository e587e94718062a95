package entitlement

import "fmt"

// Operation names a step that touches the store.
type Operation string

const (
	OpGate      Operation = "gate"
	OpReserve   Operation = "reserve"
	OpRecord    Operation = "record"
	OpRelease   Operation = "release"
	OpReconcile Operation = "reconcile"
)

// Criticality says what a store failure means for an operation.
type Criticality int

const (
	// FailClosed denies the request or surfaces the error.
	FailClosed Criticality = iota
	// FailOpen logs the error and lets the request through.
	FailOpen
)

func (c Criticality) String() string {
	if c == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}

func ParseCriticality(s string) (Criticality, error) {
	switch s {
	case "fail-open", "open":
		return FailOpen, nil
	case "fail-closed", "closed":
		return FailClosed, nil
	}
	return FailClosed, fmt.Errorf("invalid criticality %q", s)
}

// Policy maps operations to their criticality. Unlisted operations fail closed.
type Policy map[Operation]Criticality

// DefaultPolicy denies on gate and reserve failures and swallows failures of
// bookkeeping writes.
func DefaultPolicy() Policy {
	return Policy{
		OpGate:      FailClosed,
		OpReserve:   FailClosed,
		OpRecord:    FailOpen,
		OpRelease:   FailOpen,
		OpReconcile: FailOpen,
	}
}

func (p Policy) Of(op Operation) Criticality {
	if c, ok := p[op]; ok {
		return c
	}
	return FailClosed
}

// With returns a copy of p with op set to c.
func (p Policy) With(op Operation, c Criticality) Policy {
	out := make(Policy, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[op] = c
	return out
}
