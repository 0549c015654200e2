package weights

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/espresso-hep/espresso/internal/expr"
)

// ExprSpec defines a configuration-provided weight through CEL expressions
// evaluated per event. Up and Down must be given together; when present the
// weight declares a single variation carrying its own name.
type ExprSpec struct {
	Name    string `yaml:"name" json:"name"`
	Nominal string `yaml:"nominal" json:"nominal"`
	Up      string `yaml:"up,omitempty" json:"up,omitempty"`
	Down    string `yaml:"down,omitempty" json:"down,omitempty"`
}

// FromExpr compiles an expression-defined weight against the CEL
// environment. Compilation failures surface here, at resolution time, so a
// broken expression can never reach chunk processing.
func FromExpr(env *cel.Env, spec ExprSpec) (*Weight, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("expression weight without a name")
	}
	if spec.Nominal == "" {
		return nil, fmt.Errorf("expression weight %q without a nominal expression", spec.Name)
	}
	if (spec.Up == "") != (spec.Down == "") {
		return nil, fmt.Errorf("expression weight %q: up and down must be defined together", spec.Name)
	}

	nomProg, err := expr.Compile(env, spec.Nominal)
	if err != nil {
		return nil, fmt.Errorf("weight %q nominal: %w", spec.Name, err)
	}
	var upProg, downProg *expr.Program
	if spec.Up != "" {
		if upProg, err = expr.Compile(env, spec.Up); err != nil {
			return nil, fmt.Errorf("weight %q up: %w", spec.Name, err)
		}
		if downProg, err = expr.Compile(env, spec.Down); err != nil {
			return nil, fmt.Errorf("weight %q down: %w", spec.Name, err)
		}
	}

	w := &Weight{Name: spec.Name, Expr: &spec}
	if upProg != nil {
		w.Variations = []string{spec.Name}
	}
	w.Compute = func(ctx *ComputeContext) (*Value, error) {
		nom, err := nomProg.EvalColumn(ctx.View)
		if err != nil {
			return nil, err
		}
		if upProg == nil {
			return NewValue(spec.Name, nom), nil
		}
		up, err := upProg.EvalColumn(ctx.View)
		if err != nil {
			return nil, err
		}
		down, err := downProg.EvalColumn(ctx.View)
		if err != nil {
			return nil, err
		}
		return NewVariedValue(spec.Name, nom, up, down), nil
	}
	return w, nil
}
