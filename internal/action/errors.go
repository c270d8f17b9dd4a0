package action

import (
	"fmt"
	"strings"
)

// BatchError reports a failed step of a Batch or bulk run. Rollback holds
// every error hit while reverting the completed steps; it is empty when
// the rollback was clean and the filesystem is back in its prior state.
type BatchError struct {
	Step     int
	Action   Action
	Cause    error
	Rollback []error
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d (%s) failed: %v", e.Step+1, e.Action.Describe(), e.Cause)
	if len(e.Rollback) > 0 {
		fmt.Fprintf(&b, "; rollback failed (%d):", len(e.Rollback))
		for _, err := range e.Rollback {
			b.WriteString(" ")
			b.WriteString(err.Error())
			b.WriteString(";")
		}
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Unwrap exposes the original failure first, then the rollback failures.
func (e *BatchError) Unwrap() []error {
	return append([]error{e.Cause}, e.Rollback...)
}

// RolledBack reports whether every completed step was reverted.
func (e *BatchError) RolledBack() bool {
	return len(e.Rollback) == 0
}
