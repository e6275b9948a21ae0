package clock

import (
	"fmt"
)

// Operation is the closed set of clock events a worker can record.
// Adding a value requires updating every exhaustive switch over it (see Operations).
type Operation string

const (
	OpClockIn    Operation = "ClockIn"
	OpClockOut   Operation = "ClockOut"
	OpStartBreak Operation = "StartBreak"
	OpEndBreak   Operation = "EndBreak"
	OpDispute    Operation = "Dispute"
)

// Operations lists every operation in declaration order
var Operations = []Operation{OpClockIn, OpClockOut, OpStartBreak, OpEndBreak, OpDispute}

// ParseOperation converts a wire string into an Operation
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// Valid reports whether op is one of the declared operations
func (op Operation) Valid() bool {
	switch op {
	case OpClockIn, OpClockOut, OpStartBreak, OpEndBreak, OpDispute:
		return true
	default:
		return false
	}
}

// NeedsEntry reports whether the operation targets an existing time entry
func (op Operation) NeedsEntry() bool {
	switch op {
	case OpClockIn:
		return false
	case OpClockOut, OpStartBreak, OpEndBreak, OpDispute:
		return true
	default:
		panic(fmt.Sprintf("clock: unhandled operation %q", string(op)))
	}
}

// Path returns the api-service route that accepts op.
// Dispute is addressed by entry id and needs it substituted.
func (op Operation) Path(entryID string) string {
	switch op {
	case OpClockIn:
		return "/api/v1/clock/in"
	case OpClockOut:
		return "/api/v1/clock/out"
	case OpStartBreak:
		return "/api/v1/clock/break/start"
	case OpEndBreak:
		return "/api/v1/clock/break/end"
	case OpDispute:
		return "/api/v1/entries/" + entryID + "/dispute"
	default:
		panic(fmt.Sprintf("clock: unhandled operation %q", string(op)))
	}
}
