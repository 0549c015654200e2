package analysis

import "fmt"

// MalformedConfigError reports a structurally invalid analysis
// configuration: missing required keys, references to undefined samples or
// categories, or an empty dataset selection.
type MalformedConfigError struct {
	Reason string
}

func (e *MalformedConfigError) Error() string {
	return "malformed analysis configuration: " + e.Reason
}

func malformedf(format string, args ...any) *MalformedConfigError {
	return &MalformedConfigError{Reason: fmt.Sprintf(format, args...)}
}
