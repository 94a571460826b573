package registry

import (
	"fmt"
	"strings"
)

// MissingComputeUnitError lists every mandatory role that no device could
// provide, in role check order.
type MissingComputeUnitError struct {
	Roles []Role
	Names []string
	// cause joins the device errors seen while scanning, if any.
	cause error
}

func (e *MissingComputeUnitError) Error() string {
	parts := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		parts[i] = fmt.Sprintf("%s (%s)", r, e.Names[i])
	}
	msg := "missing compute unit: " + strings.Join(parts, ", ")
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// First returns the first unmet role.
func (e *MissingComputeUnitError) First() Role {
	return e.Roles[0]
}

func (e *MissingComputeUnitError) Unwrap() error {
	return e.cause
}
