package engine

import "fmt"

// ValidationError marks a request that failed input validation; the server
// maps it to a 422 rather than a 500.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string {
	return e.Msg
}

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}
