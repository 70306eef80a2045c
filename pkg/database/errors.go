package database

import "fmt"

// DataAccessError wraps a failed database operation. It marks transient
// infrastructure failures so the API layer can map them to 503 responses,
// distinct from bad-input validation results.
type DataAccessError struct {
	Op  string
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("data access failed during %s: %v", e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error {
	return e.Err
}

// NewDataAccessError wraps err with the operation that produced it
func NewDataAccessError(op string, err error) *DataAccessError {
	return &DataAccessError{Op: op, Err: err}
}
