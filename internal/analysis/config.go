package analysis

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/espresso-hep/espresso/internal/histogram"
	"github.com/espresso-hep/espresso/internal/selection"
	"github.com/espresso-hep/espresso/internal/weights"
)

// Config is the declarative analysis configuration, usually the body of a
// submitted run. It is parsed as-is; all validation happens in New.
type Config struct {
	Datasets     DatasetsConfig   `yaml:"datasets"`
	Skim         []selection.Spec `yaml:"skim,omitempty"`
	Preselection []selection.Spec `yaml:"preselection,omitempty"`

	// Categories maps category names to cut lists. An empty map gets a
	// single passthrough "baseline" category.
	Categories map[string][]selection.Spec `yaml:"categories,omitempty"`

	Weights    LayeredWeights   `yaml:"weights"`
	Variations VariationsConfig `yaml:"variations,omitempty"`
	Columns    LayeredNames     `yaml:"columns,omitempty"`

	Variables []histogram.VariableSpec `yaml:"variables,omitempty"`

	// ExprFields declares the scalar columns CEL expressions may reference.
	// Empty uses the standard NanoAOD-style set.
	ExprFields []string `yaml:"expr_fields,omitempty"`

	Run RunOptions `yaml:"run,omitempty"`
}

// RunOptions tune execution for one run. Zero values fall back to the
// service defaults.
type RunOptions struct {
	ChunkSize    int  `yaml:"chunk_size,omitempty"`
	Workers      int  `yaml:"workers,omitempty"`
	Retries      int  `yaml:"retries,omitempty"`
	Limit        int  `yaml:"limit,omitempty"`
	SkipBadFiles bool `yaml:"skip_bad_files,omitempty"`
}

// DatasetsConfig lists the dataset slices a run covers: inline definitions
// plus names resolved through the catalog service before resolution.
type DatasetsConfig struct {
	Inline  []DatasetDef  `yaml:"inline,omitempty"`
	Catalog []string      `yaml:"catalog,omitempty"`
	Filter  DatasetFilter `yaml:"filter,omitempty"`
}

// DatasetDef describes one dataset slice: the sample it belongs to, its
// metadata and where its events come from. An empty Files list with kind
// "synthetic" (or empty) generates pseudodata.
type DatasetDef struct {
	Name       string  `yaml:"name" json:"name"`
	Sample     string  `yaml:"sample" json:"sample"`
	Year       string  `yaml:"year" json:"year"`
	Era        string  `yaml:"era,omitempty" json:"era,omitempty"`
	FinalState string  `yaml:"finalstate,omitempty" json:"finalstate,omitempty"`
	IsMC       bool    `yaml:"is_mc" json:"is_mc"`
	XSec       float64 `yaml:"xsec,omitempty" json:"xsec,omitempty"`

	Kind   string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Files  []string `yaml:"files,omitempty" json:"files,omitempty"`
	Events int      `yaml:"events,omitempty" json:"events,omitempty"`

	// Subsamples split the sample by additional cuts, keyed by subsample
	// name. A sample without subsamples gets itself as a passthrough one.
	Subsamples map[string][]selection.Spec `yaml:"subsamples,omitempty" json:"-"`
}

// DatasetFilter restricts which datasets a run processes.
type DatasetFilter struct {
	Samples        []string `yaml:"samples,omitempty"`
	SamplesExclude []string `yaml:"samples_exclude,omitempty"`
	Years          []string `yaml:"years,omitempty"`
}

func (f DatasetFilter) keeps(d DatasetDef) bool {
	if len(f.Samples) > 0 && !contains(f.Samples, d.Sample) {
		return false
	}
	if contains(f.SamplesExclude, d.Sample) {
		return false
	}
	if len(f.Years) > 0 && !contains(f.Years, d.Year) {
		return false
	}
	return true
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// WeightEntry is one configured weight: either the name of a registered
// weight (a plain YAML string) or an inline expression-defined one (a
// mapping with name/nominal and optional up/down).
type WeightEntry struct {
	Name string
	Expr *weights.ExprSpec
}

func (e *WeightEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.Name)
	}
	var spec weights.ExprSpec
	if err := node.Decode(&spec); err != nil {
		return fmt.Errorf("weight entry: %w", err)
	}
	if spec.Name == "" {
		return fmt.Errorf("inline weight entry without a name")
	}
	e.Expr = &spec
	return nil
}

func (e WeightEntry) MarshalYAML() (interface{}, error) {
	if e.Expr != nil {
		return e.Expr, nil
	}
	return e.Name, nil
}

// Ident returns the name the entry answers to.
func (e WeightEntry) Ident() string {
	if e.Expr != nil {
		return e.Expr.Name
	}
	return e.Name
}

// LayeredWeights is the three-layer weight configuration: common applies to
// every sample, bysample overlays add to the named sample only.
type LayeredWeights struct {
	Common   ScopedWeights            `yaml:"common"`
	BySample map[string]ScopedWeights `yaml:"bysample,omitempty"`
}

func (l LayeredWeights) empty() bool {
	return len(l.Common.Inclusive) == 0 && len(l.Common.ByCategory) == 0 && len(l.BySample) == 0
}

// ScopedWeights splits one layer into the inclusive list and per-category
// lists.
type ScopedWeights struct {
	Inclusive  []WeightEntry            `yaml:"inclusive,omitempty"`
	ByCategory map[string][]WeightEntry `yaml:"bycategory,omitempty"`
}

// LayeredNames is the same three-layer merge for plain name lists, used by
// the variations and columns configurations.
type LayeredNames struct {
	Common   ScopedNames            `yaml:"common,omitempty"`
	BySample map[string]ScopedNames `yaml:"bysample,omitempty"`
}

// ScopedNames splits one name-list layer by scope.
type ScopedNames struct {
	Inclusive  []string            `yaml:"inclusive,omitempty"`
	ByCategory map[string][]string `yaml:"bycategory,omitempty"`
}

// VariationsConfig selects which systematic variations a run evaluates:
// weight variations by the name of the varied weight, shape variations by
// overlay suffix.
type VariationsConfig struct {
	Weights LayeredNames `yaml:"weights,omitempty"`
	Shape   LayeredNames `yaml:"shape,omitempty"`
}

// ParseConfig decodes a YAML analysis configuration. Strict decoding, so a
// misspelled key fails here instead of silently dropping a section.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, &MalformedConfigError{Reason: err.Error()}
	}
	return cfg, nil
}
