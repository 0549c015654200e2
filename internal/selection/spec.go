package selection

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/espresso-hep/espresso/internal/events"
	"github.com/espresso-hep/espresso/internal/expr"
)

// Spec is the configuration form of one cut. Kind selects a builder;
// expression cuts carry their CEL source in Expr.
type Spec struct {
	Name   string             `yaml:"name" json:"name"`
	Kind   string             `yaml:"kind" json:"kind"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
	Object string             `yaml:"object,omitempty" json:"object,omitempty"`
	Expr   string             `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// FromExpr builds a cut from a CEL boolean expression.
func FromExpr(env *cel.Env, name, src string) (*Cut, error) {
	prog, err := expr.Compile(env, src)
	if err != nil {
		return nil, fmt.Errorf("cut %q: %w", name, err)
	}
	return &Cut{
		Name: name,
		Expr: src,
		Apply: func(view events.View) ([]bool, error) {
			return prog.EvalMask(view)
		},
	}, nil
}

// Build compiles one cut specification. Unknown kinds and broken
// expressions fail here, before any chunk is read.
func Build(env *cel.Env, spec Spec) (*Cut, error) {
	param := func(key string, def float64) float64 {
		if v, ok := spec.Params[key]; ok {
			return v
		}
		return def
	}

	var cut *Cut
	switch spec.Kind {
	case "", "passthrough":
		cut = Passthrough()
	case "min_jets":
		cut = MinJets(int(param("n", 1)), param("min_pt", 30))
	case "min_bjets":
		cut = MinBJets(int(param("n", 1)), param("working_point", 0.3))
	case "min_leptons":
		if spec.Object == "" {
			return nil, fmt.Errorf("cut %q: min_leptons needs an object", spec.Name)
		}
		cut = MinLeptons(spec.Object, int(param("n", 1)), param("min_pt", 15))
	case "ht_window":
		cut = HTWindow(param("lo", 0), param("hi", 0))
	case "met_above":
		cut = METAbove(param("min", 0))
	case "expr":
		if spec.Expr == "" {
			return nil, fmt.Errorf("cut %q: expression cut without an expression", spec.Name)
		}
		name := spec.Name
		if name == "" {
			name = "expr"
		}
		return FromExpr(env, name, spec.Expr)
	default:
		return nil, fmt.Errorf("unknown cut kind %q", spec.Kind)
	}

	if spec.Name != "" {
		cut.Name = spec.Name
	}
	return cut, nil
}
