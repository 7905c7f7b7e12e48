package oxidb

import (
	"errors"
	"fmt"
)

// Error is returned when the OxiDB server returns an error response.
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("oxidb: %s", e.Msg)
}

// TransactionConflictError is returned on OCC version conflict during commit.
type TransactionConflictError struct {
	Msg string
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("oxidb: transaction conflict: %s", e.Msg)
}

// IsConflict reports whether err is an OCC conflict raised on commit.
func IsConflict(err error) bool {
	var conflict *TransactionConflictError
	return errors.As(err, &conflict)
}
