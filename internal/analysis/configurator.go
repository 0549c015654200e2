package analysis

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/espresso-hep/espresso/internal/events"
	"github.com/espresso-hep/espresso/internal/expr"
	"github.com/espresso-hep/espresso/internal/histogram"
	"github.com/espresso-hep/espresso/internal/selection"
	"github.com/espresso-hep/espresso/internal/weights"
)

// defaultExprFields is the scalar column set CEL expressions may reference
// when the configuration does not declare its own.
var defaultExprFields = []string{
	"genWeight", "LHE_HT", "MET_pt", "MET_phi",
	"PV_npvs", "Pileup_nTrueInt", "event", "run",
}

// Configurator holds one fully resolved analysis configuration: datasets
// after filtering, compiled cuts, and the per-sample weight / variation /
// column assignments. Construction validates everything; a Configurator that
// exists can be executed without further configuration errors.
type Configurator struct {
	cfg *Config
	reg *weights.Registry
	env *cel.Env

	datasets []DatasetDef
	samples  []string
	meta     map[string]events.Metadata

	skim       []*selection.Cut
	presel     []*selection.Cut
	categories *selection.Selection

	subsamples map[string]*selection.Selection
	subParent  map[string]string

	weightsBySample map[string]*weights.SampleWeights
	weightVars      map[string]map[string][]string
	shapeVars       map[string]map[string][]string
	columns         map[string]map[string][]string
}

// New resolves a raw configuration against the registry. Every configuration
// error the run could hit surfaces here, before any chunk is read.
func New(cfg *Config, reg *weights.Registry) (*Configurator, error) {
	if cfg == nil {
		return nil, &MalformedConfigError{Reason: "nil configuration"}
	}
	if cfg.Weights.empty() {
		return nil, &MalformedConfigError{Reason: "weights configuration has no common section"}
	}

	c := &Configurator{
		cfg:        cfg,
		reg:        reg,
		meta:       make(map[string]events.Metadata),
		subsamples: make(map[string]*selection.Selection),
		subParent:  make(map[string]string),
	}

	fields := cfg.ExprFields
	if len(fields) == 0 {
		fields = defaultExprFields
	}
	env, err := expr.NewEnv(fields)
	if err != nil {
		return nil, &MalformedConfigError{Reason: fmt.Sprintf("expression environment: %v", err)}
	}
	c.env = env

	if err := c.loadDatasets(); err != nil {
		return nil, err
	}
	if err := c.loadCuts(); err != nil {
		return nil, err
	}
	if err := c.loadSubsamples(); err != nil {
		return nil, err
	}
	if err := c.resolveWeights(); err != nil {
		return nil, err
	}
	if err := c.resolveVariations(); err != nil {
		return nil, err
	}
	if err := c.resolveColumns(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configurator) loadDatasets() error {
	seen := make(map[string]bool)
	for _, d := range c.cfg.Datasets.Inline {
		if d.Name == "" || d.Sample == "" {
			return &MalformedConfigError{Reason: fmt.Sprintf("dataset %+q needs name and sample", d.Name)}
		}
		if seen[d.Name] {
			return &MalformedConfigError{Reason: fmt.Sprintf("dataset %q defined twice", d.Name)}
		}
		seen[d.Name] = true
		if !c.cfg.Datasets.Filter.keeps(d) {
			continue
		}
		c.datasets = append(c.datasets, d)
		if _, ok := c.meta[d.Sample]; !ok {
			c.meta[d.Sample] = events.Metadata{
				Sample:     d.Sample,
				Dataset:    d.Name,
				Year:       d.Year,
				Era:        d.Era,
				FinalState: d.FinalState,
				IsMC:       d.IsMC,
				XSec:       d.XSec,
			}
			c.samples = append(c.samples, d.Sample)
		}
	}
	if len(c.datasets) == 0 {
		return &MalformedConfigError{Reason: "no datasets left after filtering"}
	}
	sort.Strings(c.samples)
	return nil
}

func (c *Configurator) loadCuts() error {
	var err error
	if c.skim, err = c.buildCuts(c.cfg.Skim); err != nil {
		return &MalformedConfigError{Reason: fmt.Sprintf("skim: %v", err)}
	}
	if c.presel, err = c.buildCuts(c.cfg.Preselection); err != nil {
		return &MalformedConfigError{Reason: fmt.Sprintf("preselection: %v", err)}
	}

	c.categories = selection.NewSelection()
	if len(c.cfg.Categories) == 0 {
		_ = c.categories.Add("baseline", selection.Passthrough())
		return nil
	}
	names := make([]string, 0, len(c.cfg.Categories))
	for name := range c.cfg.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cuts, err := c.buildCuts(c.cfg.Categories[name])
		if err != nil {
			return &MalformedConfigError{Reason: fmt.Sprintf("category %q: %v", name, err)}
		}
		if len(cuts) == 0 {
			cuts = []*selection.Cut{selection.Passthrough()}
		}
		if err := c.categories.Add(name, cuts...); err != nil {
			return &MalformedConfigError{Reason: err.Error()}
		}
	}
	return nil
}

func (c *Configurator) buildCuts(specs []selection.Spec) ([]*selection.Cut, error) {
	cuts := make([]*selection.Cut, 0, len(specs))
	for _, spec := range specs {
		cut, err := selection.Build(c.env, spec)
		if err != nil {
			return nil, err
		}
		cuts = append(cuts, cut)
	}
	return cuts, nil
}

// loadSubsamples compiles per-sample subsample selections. A sample without
// configured subsamples gets itself as a single passthrough subsample, so
// column bookkeeping always addresses subsample keys.
func (c *Configurator) loadSubsamples() error {
	declared := make(map[string]map[string][]selection.Spec)
	for _, d := range c.datasets {
		if len(d.Subsamples) == 0 {
			continue
		}
		if declared[d.Sample] == nil {
			declared[d.Sample] = make(map[string][]selection.Spec)
		}
		for name, specs := range d.Subsamples {
			if _, ok := declared[d.Sample][name]; ok {
				return &MalformedConfigError{Reason: fmt.Sprintf(
					"subsample %q of sample %q defined twice", name, d.Sample)}
			}
			declared[d.Sample][name] = specs
		}
	}

	for _, sample := range c.samples {
		sel := selection.NewSelection()
		subs := declared[sample]
		if len(subs) == 0 {
			if err := sel.Add(sample, selection.Passthrough()); err != nil {
				return &MalformedConfigError{Reason: err.Error()}
			}
			c.subParent[sample] = sample
			c.subsamples[sample] = sel
			continue
		}
		names := make([]string, 0, len(subs))
		for name := range subs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if prev, ok := c.subParent[name]; ok {
				return &MalformedConfigError{Reason: fmt.Sprintf(
					"subsample %q defined for both %q and %q", name, prev, sample)}
			}
			cuts, err := c.buildCuts(subs[name])
			if err != nil {
				return &MalformedConfigError{Reason: fmt.Sprintf(
					"subsample %q of sample %q: %v", name, sample, err)}
			}
			if len(cuts) == 0 {
				cuts = []*selection.Cut{selection.Passthrough()}
			}
			if err := sel.Add(name, cuts...); err != nil {
				return &MalformedConfigError{Reason: err.Error()}
			}
			c.subParent[name] = sample
		}
		c.subsamples[sample] = sel
	}
	return nil
}

// resolveWeights runs the three-layer merge: common.inclusive to every
// sample, common.bycategory per category with the duplicate check against
// the inclusive list, then bysample overlays with the same checks against
// that sample's current state. Insertion order is preserved for
// serialization; multiplication itself is order-free.
func (c *Configurator) resolveWeights() error {
	c.weightsBySample = make(map[string]*weights.SampleWeights, len(c.samples))
	for _, s := range c.samples {
		c.weightsBySample[s] = &weights.SampleWeights{
			Sample:     s,
			ByCategory: make(map[string][]weights.Ref),
		}
	}

	refs := make(map[string]weights.Ref)
	resolveEntry := func(e WeightEntry, sample string) (weights.Ref, error) {
		if ref, ok := refs[e.Ident()]; ok {
			return ref, nil
		}
		var ref weights.Ref
		if e.Expr != nil {
			if c.reg.Has(e.Expr.Name) {
				return ref, &MalformedConfigError{Reason: fmt.Sprintf(
					"inline weight %q collides with a registered weight", e.Expr.Name)}
			}
			w, err := weights.FromExpr(c.env, *e.Expr)
			if err != nil {
				return ref, &MalformedConfigError{Reason: err.Error()}
			}
			ref = weights.ByCustom(w)
		} else {
			if !c.reg.Has(e.Name) {
				return ref, &weights.UnknownWeightError{Name: e.Name, Sample: sample}
			}
			ref = weights.ByName(e.Name)
		}
		refs[e.Ident()] = ref
		return ref, nil
	}

	inInclusive := func(sw *weights.SampleWeights, name string) bool {
		for _, r := range sw.Inclusive {
			if r.Ident() == name {
				return true
			}
		}
		return false
	}
	inCategory := func(sw *weights.SampleWeights, name string) (string, bool) {
		for cat, rs := range sw.ByCategory {
			for _, r := range rs {
				if r.Ident() == name {
					return cat, true
				}
			}
		}
		return "", false
	}

	addInclusive := func(sw *weights.SampleWeights, e WeightEntry) error {
		ref, err := resolveEntry(e, sw.Sample)
		if err != nil {
			return err
		}
		if inInclusive(sw, e.Ident()) {
			return &weights.DuplicateWeightError{Name: e.Ident(), Sample: sw.Sample}
		}
		if cat, ok := inCategory(sw, e.Ident()); ok {
			return &weights.DuplicateWeightError{Name: e.Ident(), Sample: sw.Sample, Category: cat}
		}
		sw.Inclusive = append(sw.Inclusive, ref)
		return nil
	}
	addByCategory := func(sw *weights.SampleWeights, cat string, e WeightEntry) error {
		if !c.categories.Has(cat) {
			return &MalformedConfigError{Reason: fmt.Sprintf(
				"weights reference undefined category %q", cat)}
		}
		ref, err := resolveEntry(e, sw.Sample)
		if err != nil {
			return err
		}
		if inInclusive(sw, e.Ident()) {
			return &weights.DuplicateWeightError{Name: e.Ident(), Sample: sw.Sample, Category: cat}
		}
		if prev, ok := inCategory(sw, e.Ident()); ok {
			return &weights.DuplicateWeightError{Name: e.Ident(), Sample: sw.Sample, Category: prev}
		}
		sw.ByCategory[cat] = append(sw.ByCategory[cat], ref)
		sw.SplitByCategory = true
		return nil
	}

	for _, e := range c.cfg.Weights.Common.Inclusive {
		for _, s := range c.samples {
			if err := addInclusive(c.weightsBySample[s], e); err != nil {
				return err
			}
		}
	}
	for _, cat := range sortedKeys(c.cfg.Weights.Common.ByCategory) {
		for _, e := range c.cfg.Weights.Common.ByCategory[cat] {
			for _, s := range c.samples {
				if err := addByCategory(c.weightsBySample[s], cat, e); err != nil {
					return err
				}
			}
		}
	}
	for _, s := range sortedKeys(c.cfg.Weights.BySample) {
		sw, ok := c.weightsBySample[s]
		if !ok {
			return &MalformedConfigError{Reason: fmt.Sprintf(
				"weights reference undefined sample %q", s)}
		}
		overlay := c.cfg.Weights.BySample[s]
		for _, e := range overlay.Inclusive {
			if err := addInclusive(sw, e); err != nil {
				return err
			}
		}
		for _, cat := range sortedKeys(overlay.ByCategory) {
			for _, e := range overlay.ByCategory[cat] {
				if err := addByCategory(sw, cat, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resolveVariations flattens the weight-variation and shape-variation
// layers: common.inclusive reaches every category of every sample,
// common.bycategory and bysample narrow the scope. Weight variation names
// must be declared by some registered weight.
func (c *Configurator) resolveVariations() error {
	var err error
	c.weightVars, err = c.mergeNames(c.cfg.Variations.Weights, func(name, sample string) error {
		if !c.reg.HasVariation(name) {
			return &weights.UnknownVariationError{Name: name, Sample: sample}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.shapeVars, err = c.mergeNames(c.cfg.Variations.Shape, func(name, sample string) error {
		if name == events.ShapeNominal {
			return &MalformedConfigError{Reason: fmt.Sprintf(
				`"nominal" is implicit and cannot be listed as a shape variation (sample %q)`, sample)}
		}
		return nil
	})
	return err
}

// mergeNames performs the flattened three-layer merge onto
// sample -> category -> ordered names. A name repeated within one
// (sample, category) list is a configuration error.
func (c *Configurator) mergeNames(layered LayeredNames, validate func(name, sample string) error) (map[string]map[string][]string, error) {
	out := make(map[string]map[string][]string, len(c.samples))
	for _, s := range c.samples {
		out[s] = make(map[string][]string)
		for _, cat := range c.categories.Categories() {
			out[s][cat] = nil
		}
	}

	add := func(sample, cat, name string) error {
		if err := validate(name, sample); err != nil {
			return err
		}
		if contains(out[sample][cat], name) {
			return &MalformedConfigError{Reason: fmt.Sprintf(
				"name %q listed twice for sample %q category %q", name, sample, cat)}
		}
		out[sample][cat] = append(out[sample][cat], name)
		return nil
	}

	for _, name := range layered.Common.Inclusive {
		for _, s := range c.samples {
			for _, cat := range c.categories.Categories() {
				if err := add(s, cat, name); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, cat := range sortedKeys(layered.Common.ByCategory) {
		if !c.categories.Has(cat) {
			return nil, &MalformedConfigError{Reason: fmt.Sprintf(
				"configuration references undefined category %q", cat)}
		}
		for _, name := range layered.Common.ByCategory[cat] {
			for _, s := range c.samples {
				if err := add(s, cat, name); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, s := range sortedKeys(layered.BySample) {
		if _, ok := out[s]; !ok {
			return nil, &MalformedConfigError{Reason: fmt.Sprintf(
				"configuration references undefined sample %q", s)}
		}
		overlay := layered.BySample[s]
		for _, name := range overlay.Inclusive {
			for _, cat := range c.categories.Categories() {
				if err := add(s, cat, name); err != nil {
					return nil, err
				}
			}
		}
		for _, cat := range sortedKeys(overlay.ByCategory) {
			if !c.categories.Has(cat) {
				return nil, &MalformedConfigError{Reason: fmt.Sprintf(
					"configuration references undefined category %q", cat)}
			}
			for _, name := range overlay.ByCategory[cat] {
				if err := add(s, cat, name); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// resolveColumns runs the same merge keyed by subsample: common entries fan
// out to every subsample, a bysample overlay may name a sample (reaching all
// its subsamples) or one subsample directly.
func (c *Configurator) resolveColumns() error {
	subs := c.allSubsampleKeys()
	out := make(map[string]map[string][]string, len(subs))
	for _, sub := range subs {
		out[sub] = make(map[string][]string)
		for _, cat := range c.categories.Categories() {
			out[sub][cat] = nil
		}
	}

	add := func(sub, cat, name string) error {
		if contains(out[sub][cat], name) {
			return &MalformedConfigError{Reason: fmt.Sprintf(
				"column %q listed twice for subsample %q category %q", name, sub, cat)}
		}
		out[sub][cat] = append(out[sub][cat], name)
		return nil
	}
	addScoped := func(targets []string, scoped ScopedNames) error {
		for _, name := range scoped.Inclusive {
			for _, sub := range targets {
				for _, cat := range c.categories.Categories() {
					if err := add(sub, cat, name); err != nil {
						return err
					}
				}
			}
		}
		for _, cat := range sortedKeys(scoped.ByCategory) {
			if !c.categories.Has(cat) {
				return &MalformedConfigError{Reason: fmt.Sprintf(
					"columns reference undefined category %q", cat)}
			}
			for _, name := range scoped.ByCategory[cat] {
				for _, sub := range targets {
					if err := add(sub, cat, name); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	if err := addScoped(subs, c.cfg.Columns.Common); err != nil {
		return err
	}
	for _, key := range sortedKeys(c.cfg.Columns.BySample) {
		var targets []string
		if sel, ok := c.subsamples[key]; ok {
			targets = sel.Categories()
		} else if _, ok := c.subParent[key]; ok {
			targets = []string{key}
		} else {
			return &MalformedConfigError{Reason: fmt.Sprintf(
				"columns reference undefined sample or subsample %q", key)}
		}
		if err := addScoped(targets, c.cfg.Columns.BySample[key]); err != nil {
			return err
		}
	}
	c.columns = out
	return nil
}

func (c *Configurator) allSubsampleKeys() []string {
	var out []string
	for _, s := range c.samples {
		out = append(out, c.subsamples[s].Categories()...)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Samples returns the sorted sample names after dataset filtering.
func (c *Configurator) Samples() []string {
	return append([]string(nil), c.samples...)
}

// Datasets returns the dataset slices the run covers.
func (c *Configurator) Datasets() []DatasetDef {
	return append([]DatasetDef(nil), c.datasets...)
}

// MetadataFor returns the default metadata of a sample.
func (c *Configurator) MetadataFor(sample string) (events.Metadata, bool) {
	m, ok := c.meta[sample]
	return m, ok
}

// WeightsFor returns the resolved weight assignment of a sample.
func (c *Configurator) WeightsFor(sample string) (*weights.SampleWeights, error) {
	sw, ok := c.weightsBySample[sample]
	if !ok {
		return nil, &MalformedConfigError{Reason: fmt.Sprintf("unknown sample %q", sample)}
	}
	return sw, nil
}

// SkimCuts returns the compiled skim cut list.
func (c *Configurator) SkimCuts() []*selection.Cut { return c.skim }

// PreselectionCuts returns the compiled preselection cut list.
func (c *Configurator) PreselectionCuts() []*selection.Cut { return c.presel }

// Categories returns the compiled categorization.
func (c *Configurator) Categories() *selection.Selection { return c.categories }

// Subsamples returns the subsample selection of a sample; a sample without
// configured subsamples holds itself as a passthrough subsample.
func (c *Configurator) Subsamples(sample string) *selection.Selection {
	return c.subsamples[sample]
}

// WeightVariations returns the configured weight-variation names for one
// (sample, category) scope.
func (c *Configurator) WeightVariations(sample, category string) []string {
	return c.weightVars[sample][category]
}

// ShapeVariations returns the configured shape-variation names for one
// (sample, category) scope.
func (c *Configurator) ShapeVariations(sample, category string) []string {
	return c.shapeVars[sample][category]
}

// AvailableWeightModifiers returns "nominal" plus the Up/Down tokens of
// every weight variation configured anywhere for the sample, sorted.
func (c *Configurator) AvailableWeightModifiers(sample string) []string {
	seen := make(map[string]bool)
	for _, names := range c.weightVars[sample] {
		for _, n := range names {
			seen[n] = true
		}
	}
	out := []string{"nominal"}
	for _, n := range sortedKeys(seen) {
		out = append(out, n+"Up", n+"Down")
	}
	sort.Strings(out)
	return out
}

// AvailableShapeVariations returns "nominal" plus every shape variation
// configured anywhere for the sample, sorted.
func (c *Configurator) AvailableShapeVariations(sample string) []string {
	seen := make(map[string]bool)
	for _, names := range c.shapeVars[sample] {
		for _, n := range names {
			seen[n] = true
		}
	}
	out := []string{events.ShapeNominal}
	out = append(out, sortedKeys(seen)...)
	sort.Strings(out)
	return out
}

// ColumnsFor returns the category -> column-name assignment of a subsample.
func (c *Configurator) ColumnsFor(subsample string) map[string][]string {
	return c.columns[subsample]
}

// Variables returns the configured histogram variables; an empty
// configuration gets the default observable set.
func (c *Configurator) Variables() []histogram.VariableSpec {
	if len(c.cfg.Variables) == 0 {
		return histogram.DefaultVariables()
	}
	return c.cfg.Variables
}

// Run returns the run options of the configuration.
func (c *Configurator) Run() RunOptions { return c.cfg.Run }
