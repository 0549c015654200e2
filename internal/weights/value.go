package weights

import "fmt"

// Value is one computed weight for a chunk: a nominal column plus aligned
// up/down columns for each named variation. Up[i] and Down[i] belong to
// Variations[i].
type Value struct {
	Name       string
	Nominal    []float64
	Variations []string
	Up         [][]float64
	Down       [][]float64
}

// NewValue builds a weight value without variations.
func NewValue(name string, nominal []float64) *Value {
	return &Value{Name: name, Nominal: nominal}
}

// NewVariedValue builds a weight value with a single variation named after
// the weight itself, the convention for one-systematic scale factors.
func NewVariedValue(name string, nominal, up, down []float64) *Value {
	return &Value{
		Name:       name,
		Nominal:    nominal,
		Variations: []string{name},
		Up:         [][]float64{up},
		Down:       [][]float64{down},
	}
}

// NewMultiVariedValue builds a weight value carrying several named
// variations around one nominal.
func NewMultiVariedValue(name string, nominal []float64, variations []string, up, down [][]float64) *Value {
	return &Value{
		Name:       name,
		Nominal:    nominal,
		Variations: variations,
		Up:         up,
		Down:       down,
	}
}

// HasVariations reports whether the value carries any up/down columns.
func (v *Value) HasVariations() bool { return len(v.Variations) > 0 }

// Validate checks the alignment invariants against the chunk size: the
// variation lists and both shift sets have equal length, and every column
// has exactly size entries.
func (v *Value) Validate(size int) error {
	if v.Name == "" {
		return fmt.Errorf("weight value without a name")
	}
	if len(v.Nominal) != size {
		return fmt.Errorf("weight %q: nominal has %d entries, chunk size is %d",
			v.Name, len(v.Nominal), size)
	}
	if len(v.Up) != len(v.Variations) || len(v.Down) != len(v.Variations) {
		return fmt.Errorf("weight %q: %d variations with %d up and %d down columns",
			v.Name, len(v.Variations), len(v.Up), len(v.Down))
	}
	for i, name := range v.Variations {
		if name == "" {
			return fmt.Errorf("weight %q: variation %d has no name", v.Name, i)
		}
		if len(v.Up[i]) != size {
			return fmt.Errorf("weight %q variation %q: up has %d entries, chunk size is %d",
				v.Name, name, len(v.Up[i]), size)
		}
		if len(v.Down[i]) != size {
			return fmt.Errorf("weight %q variation %q: down has %d entries, chunk size is %d",
				v.Name, name, len(v.Down[i]), size)
		}
	}
	return nil
}
