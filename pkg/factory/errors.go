package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/wehubfusion/treeview/pkg/errors"
)

// DispatchExhaustedError reports that no builder could make a node from an object.
type DispatchExhaustedError struct {
	// Object describes the candidate object
	Object string
	// ObjectType is the Go type of the candidate object
	ObjectType string
	// Tried lists the builders that were suitable and invoked, in order
	Tried []string
	// Faults holds builder faults skipped under FaultContinue
	Faults []error
	// Trace is the dispatch trace when debugging was on
	Trace string
}

// Error implements the error interface.
func (e *DispatchExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no node could be made from %s of type %s", e.Object, e.ObjectType)
	if len(e.Tried) == 0 {
		b.WriteString("\nno builder was suitable")
	} else {
		b.WriteString("\nTried:")
		for _, t := range e.Tried {
			b.WriteString("\n    ")
			b.WriteString(t)
		}
	}
	return b.String()
}

// Is makes every DispatchExhaustedError match errors.ErrDispatchExhausted.
func (e *DispatchExhaustedError) Is(target error) bool {
	return target == errors.ErrDispatchExhausted
}

// Attempts returns the builders that were tried.
func (e *DispatchExhaustedError) Attempts() []string {
	return e.Tried
}

// Reporter receives builder faults, typically to forward them to an error
// tracking service.
type Reporter interface {
	ReportFault(ctx context.Context, fault *errors.FaultError)
}
