// Package mowererrors defines the typed error taxonomy shared by every
// component of the mower coordination core.
//
// Codes are grouped by decade, mirroring the kind of failure rather than
// the package that raised it:
//
//	1000-1999  Hardware    (sensor read failure, bus fault, motor fault, GPIO)
//	2000-2999  Navigation  (localization failure, path-blocked, boundary violation)
//	3000-3999  Software    (thread/join failure, timeout, state-machine misuse)
//	4000-4999  Configuration (missing/invalid polygon, out-of-range parameter)
//	5000-5999  Security    (authentication failure, decryption failure)
//
// Critical and RequiresHumanIntervention are derived from the code, not set
// ad hoc by callers, so the mapping from "what happened" to "how bad is it"
// stays centralized.
package mowererrors

import "fmt"

// Code is a stable integer error identifier.
type Code int

const (
	// Hardware — 1000s
	CodeSensorReadFailure   Code = 1000
	CodeBusFault            Code = 1001
	CodeMotorDriverFault    Code = 1002
	CodeGPIOError           Code = 1003
	CodeBatteryCritical     Code = 1004
	CodeOverheating         Code = 1005
	CodeRequiredSensorDown  Code = 1006

	// Navigation — 2000s
	CodeLocalizationFailure Code = 2000
	CodePathBlocked         Code = 2001
	CodeBoundaryViolation   Code = 2002

	// Software — 3000s
	CodeThreadJoinFailure   Code = 3000
	CodeTimeout             Code = 3001
	CodeInvalidTransition   Code = 3002

	// Configuration — 4000s
	CodeInvalidPolygon      Code = 4000
	CodeOutOfRangeParameter Code = 4001

	// Security — 5000s
	CodeAuthenticationFailure Code = 5000
	CodeDecryptionFailure     Code = 5001
)

// criticalCodes are the codes that always enqueue an ErrorOccurred event and
// request an EmergencyStop transition (spec.md §7 "Propagation policy").
var criticalCodes = map[Code]bool{
	CodeBatteryCritical:    true,
	CodeOverheating:        true,
	CodeRequiredSensorDown: true,
	CodeBusFault:           true,
	CodeMotorDriverFault:   true,
	CodeBoundaryViolation:  true,
}

// humanInterventionCodes are the codes that cannot be recovered by the
// software alone.
var humanInterventionCodes = map[Code]bool{
	CodeMotorDriverFault:     true,
	CodeOverheating:          true,
	CodeAuthenticationFailure: true,
	CodeDecryptionFailure:     true,
}

// Error is the taxonomy type every component returns for a domain failure.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Cause   error
}

// New creates an Error with the given code and message. ctx may be nil.
func New(code Code, message string, ctx map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: ctx}
}

// Wrap creates an Error that chains an underlying cause.
func Wrap(code Code, message string, cause error, ctx map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: ctx, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Critical reports whether this error always demands an EmergencyStop
// request, per spec.md §7.
func (e *Error) Critical() bool {
	return criticalCodes[e.Code]
}

// RequiresHumanIntervention reports whether the error cannot be cleared by
// software alone (a human must physically intervene).
func (e *Error) RequiresHumanIntervention() bool {
	return humanInterventionCodes[e.Code]
}

// InvalidTransition is returned by the state manager when a transition is
// attempted that the validity table does not permit. It deliberately does
// not embed Error's map-based Context — transition failures are a narrow,
// well-typed case callers match on directly.
type InvalidTransition struct {
	From string
	To   string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}
