package weights

import (
	"github.com/espresso-hep/espresso/internal/corrections"
	"github.com/espresso-hep/espresso/internal/events"
)

// ComputeContext carries everything a weight computation may read. The view
// is already resolved to the shape variation under evaluation, so implementations
// never handle shape names themselves.
type ComputeContext struct {
	View   events.View
	Meta   events.Metadata
	Size   int
	Tables *corrections.Tables
}

// NewComputeContext builds the context for one chunk view.
func NewComputeContext(view events.View, tables *corrections.Tables) *ComputeContext {
	return &ComputeContext{
		View:   view,
		Meta:   view.Meta(),
		Size:   view.Size(),
		Tables: tables,
	}
}

// Weight is one registry entry: a named multiplicative event weight together
// with every variation name it can emit. Variations lists the union across
// years; a computed Value may carry a subset for the chunk's year. Compute
// must be deterministic for fixed inputs and perform no I/O.
type Weight struct {
	Name       string
	Variations []string
	Compute    func(ctx *ComputeContext) (*Value, error)

	// Expr holds the source expressions of a configuration-defined weight,
	// kept so resolved configurations serialize them. Nil for compiled-in
	// weights.
	Expr *ExprSpec
}

// HasVariations reports whether the entry declares any variation.
func (w *Weight) HasVariations() bool { return len(w.Variations) > 0 }

// Ref names either a registered weight (by string) or carries an inline
// custom definition. Exactly one of the two is set.
type Ref struct {
	Name   string
	Custom *Weight
}

// ByName builds a reference to a registered weight.
func ByName(name string) Ref { return Ref{Name: name} }

// ByCustom builds a reference carrying an inline weight definition.
func ByCustom(w *Weight) Ref { return Ref{Custom: w} }

// IsCustom reports whether the reference carries an inline definition.
func (r Ref) IsCustom() bool { return r.Custom != nil }

// Ident returns the name the reference answers to, used as the computation
// cache key and in serialized configurations.
func (r Ref) Ident() string {
	if r.Custom != nil {
		return r.Custom.Name
	}
	return r.Name
}

// SampleWeights is the resolved weight assignment for one sample: the
// inclusive list applied everywhere plus optional per-category lists.
// Lists preserve configuration order. SplitByCategory is set when any
// category list is non-empty.
type SampleWeights struct {
	Sample          string
	Inclusive       []Ref
	ByCategory      map[string][]Ref
	SplitByCategory bool
}
