package session

import (
	"errors"
	"fmt"

	"github.com/ares-project/aresnet/internal/transport"
)

// Outcome tells the caller how to present a failed join.
type Outcome int

const (
	// OutcomeSilent returns to the menu without a message.
	OutcomeSilent Outcome = iota
	// OutcomeReport shows the error to the user.
	OutcomeReport
	// OutcomeUnexpected is logged as a fault.
	OutcomeUnexpected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSilent:
		return "silent"
	case OutcomeReport:
		return "report"
	default:
		return "unexpected"
	}
}

// JoinError wraps a failed Join with its presentation outcome.
type JoinError struct {
	Outcome Outcome
	Err     error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join failed (%s): %v", e.Outcome, e.Err)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}

// ClassifyJoinError maps transport errors onto join outcomes.
func ClassifyJoinError(err error) Outcome {
	switch {
	case errors.Is(err, transport.ErrTimeout),
		errors.Is(err, transport.ErrConnectFailed),
		errors.Is(err, transport.ErrNotAdvertising),
		errors.Is(err, transport.ErrNotHost),
		errors.Is(err, transport.ErrJoinFailed):
		return OutcomeSilent
	case errors.Is(err, transport.ErrInvalidAddress):
		return OutcomeReport
	default:
		return OutcomeUnexpected
	}
}
