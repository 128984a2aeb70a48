package engine

import (
	"fmt"

	"mootcourt/internal/graph"
)

// ValidationError indicates malformed or rule-breaking input.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ForbiddenError indicates the actor may not perform the operation. Reason
// distinguishes turn gating from plain permission failures.
type ForbiddenError struct {
	Reason string
	Msg    string
}

func (e ForbiddenError) Error() string { return e.Msg }

// ReasonNotYourTurn marks turn-gate rejections so clients can render them
// differently from hard permission failures.
const ReasonNotYourTurn = "not_your_turn"

// ConflictError indicates the operation lost a race or hit an occupied
// resource: a stale decision, a second live execution, a claimed role.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

func conflictf(format string, args ...any) ConflictError {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// PreconditionError indicates state that blocks the operation without
// being a conflict: unmet variable conditions, no usable initial node.
type PreconditionError struct {
	Msg string
}

func (e PreconditionError) Error() string { return e.Msg }

func preconditionf(format string, args ...any) PreconditionError {
	return PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// GraphInvalidError carries the validation report of a graph that failed
// activation.
type GraphInvalidError struct {
	Report graph.Report
}

func (e GraphInvalidError) Error() string {
	return fmt.Sprintf("graph is invalid: %d errors", len(e.Report.Errors))
}
