package domain

import "fmt"

// ValidationError reports a malformed or missing required field.
// The fold itself never raises these - it coerces missing numerics to 0 and
// stays total. Validation happens at the mutation boundary before persisting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvariantViolation reports a real business-rule breach: a share-lock
// rejection, resolving an already-closed position, a partial close exceeding
// remaining contracts. These are returned as typed rejections, never silently
// clamped.
type InvariantViolation struct {
	Rule   string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Rule, e.Detail)
}

// CompensationFailure means a synthetic linked action could not be found or
// deleted while reversing an assignment or exercise. The outer operation must
// abort entirely - a dangling synthetic action corrupts cost-basis accounting.
type CompensationFailure struct {
	Ref SourceRef
	Op  string
	Err error
}

func (e *CompensationFailure) Error() string {
	return fmt.Sprintf("compensation failed during %s (ref %s/%s): %v", e.Op, e.Ref.Kind, e.Ref.ID, e.Err)
}

func (e *CompensationFailure) Unwrap() error {
	return e.Err
}
