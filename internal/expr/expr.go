package expr

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/interpreter"

	"github.com/espresso-hep/espresso/internal/events"
)

// NewEnv builds a CEL environment declaring one double variable per scalar
// event field plus the metadata identifiers year, sample, is_mc and xsec.
// Configured expressions compile once against this environment and evaluate
// per event.
func NewEnv(fields []string) (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(fields)+4)
	for _, f := range fields {
		opts = append(opts, cel.Variable(f, cel.DoubleType))
	}
	opts = append(opts,
		cel.Variable("year", cel.StringType),
		cel.Variable("sample", cel.StringType),
		cel.Variable("is_mc", cel.BoolType),
		cel.Variable("xsec", cel.DoubleType),
	)
	return cel.NewEnv(opts...)
}

// Program is one compiled expression over event columns.
type Program struct {
	src  string
	prog cel.Program
}

// Compile parses and type-checks src against env.
func Compile(env *cel.Env, src string) (*Program, error) {
	ast, iss := env.Parse(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("parse %q: %w", src, iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return nil, fmt.Errorf("check %q: %w", src, iss.Err())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", src, err)
	}
	return &Program{src: src, prog: prog}, nil
}

// Src returns the expression source, used when serializing resolved
// configurations.
func (p *Program) Src() string { return p.src }

// rowActivation resolves CEL identifiers against one event of a chunk view.
// Columns are fetched lazily and cached for the chunk; a nil cache entry
// marks a name the view cannot resolve.
type rowActivation struct {
	view events.View
	meta events.Metadata
	row  int
	cols map[string][]float64
}

func (a *rowActivation) ResolveName(name string) (any, bool) {
	switch name {
	case "year":
		return a.meta.Year, true
	case "sample":
		return a.meta.Sample, true
	case "is_mc":
		return a.meta.IsMC, true
	case "xsec":
		return a.meta.XSec, true
	}
	col, seen := a.cols[name]
	if !seen {
		c, err := a.view.Column(name)
		if err != nil {
			c = nil
		}
		a.cols[name] = c
		col = c
	}
	if col == nil {
		return nil, false
	}
	return col[a.row], true
}

func (a *rowActivation) Parent() interpreter.Activation { return nil }

func (p *Program) eval(view events.View) ([]any, error) {
	act := &rowActivation{
		view: view,
		meta: view.Meta(),
		cols: make(map[string][]float64),
	}
	out := make([]any, view.Size())
	for i := range out {
		act.row = i
		val, _, err := p.prog.Eval(act)
		if err != nil {
			return nil, fmt.Errorf("eval %q at event %d: %w", p.src, i, err)
		}
		out[i] = val.Value()
	}
	return out, nil
}

// EvalColumn evaluates the expression per event into a float column.
// Integer results are widened; any other result type is an error.
func (p *Program) EvalColumn(view events.View) ([]float64, error) {
	raw, err := p.eval(view)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case float64:
			out[i] = x
		case int64:
			out[i] = float64(x)
		case uint64:
			out[i] = float64(x)
		default:
			return nil, fmt.Errorf("expression %q yields %T, want a number", p.src, v)
		}
	}
	return out, nil
}

// EvalMask evaluates the expression per event into a boolean mask.
func (p *Program) EvalMask(view events.View) ([]bool, error) {
	raw, err := p.eval(view)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(raw))
	for i, v := range raw {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expression %q yields %T, want bool", p.src, v)
		}
		out[i] = b
	}
	return out, nil
}
