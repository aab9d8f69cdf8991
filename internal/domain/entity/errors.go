package entity

import "fmt"

// ValidationError reports a missing or invalid required input. Mutations
// failing validation are rejected before any local or remote state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
