package group

import (
	"fmt"
)

// AggregateError wraps the errors collected in CollectAll mode.
// errors.Is and errors.As see every wrapped error.
type AggregateError struct {
	Errors []error
}

func (a AggregateError) Error() string {
	if len(a.Errors) == 0 {
		return "no errors"
	}
	return fmt.Sprintf("%d errors: %v", len(a.Errors), a.Errors)
}

func (a AggregateError) Unwrap() []error {
	return a.Errors
}
