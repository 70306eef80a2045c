// Package report defines the status and issue vocabulary shared by every
// pipeline stage result. Bad input is reported through these structures,
// not through Go errors; Go errors are reserved for infrastructure
// failures.
package report

// Status is the rolled-up outcome of a stage operation
type Status string

// Stage statuses, ordered ok < warning < error
const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

var severity = map[Status]int{
	StatusOK:      0,
	StatusWarning: 1,
	StatusError:   2,
}

// Worst returns the more severe of two statuses
func Worst(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}

	return a
}

// Issue is a coded finding attached to a stage result
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Rollup computes the overall status from a base status plus issue lists
func Rollup(warnings, errors []Issue) Status {
	switch {
	case len(errors) > 0:
		return StatusError
	case len(warnings) > 0:
		return StatusWarning
	default:
		return StatusOK
	}
}
