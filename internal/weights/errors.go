package weights

import "fmt"

// UnknownWeightError reports a configured weight name that is neither
// registered nor defined inline. Raised at resolution time, never during
// chunk processing.
type UnknownWeightError struct {
	Name   string
	Sample string
}

func (e *UnknownWeightError) Error() string {
	if e.Sample == "" {
		return fmt.Sprintf("unknown weight %q", e.Name)
	}
	return fmt.Sprintf("unknown weight %q requested for sample %q", e.Name, e.Sample)
}

// UnknownVariationError reports a configured variation name no registered
// weight can emit.
type UnknownVariationError struct {
	Name   string
	Sample string
}

func (e *UnknownVariationError) Error() string {
	if e.Sample == "" {
		return fmt.Sprintf("unknown variation %q", e.Name)
	}
	return fmt.Sprintf("unknown variation %q requested for sample %q", e.Name, e.Sample)
}

// DuplicateNameError reports a second, different registry entry under an
// already registered name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("weight %q already registered with a different definition", e.Name)
}

// DuplicateWeightError reports a weight assigned to a sample both
// inclusively and in a category, which would double-count it in the
// combined product.
type DuplicateWeightError struct {
	Name     string
	Sample   string
	Category string
}

func (e *DuplicateWeightError) Error() string {
	return fmt.Sprintf("weight %q configured twice for sample %q (inclusive and category %q)",
		e.Name, e.Sample, e.Category)
}

// ModifierNotAvailableError reports a weight query for a modifier outside
// the availability set of the requested scope.
type ModifierNotAvailableError struct {
	Modifier string
	Category string
	Sample   string
}

func (e *ModifierNotAvailableError) Error() string {
	scope := "inclusive scope"
	if e.Category != "" {
		scope = fmt.Sprintf("category %q", e.Category)
	}
	if e.Sample == "" {
		return fmt.Sprintf("modifier %q not available in %s", e.Modifier, scope)
	}
	return fmt.Sprintf("modifier %q not available in %s of sample %q", e.Modifier, scope, e.Sample)
}
