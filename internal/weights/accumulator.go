package weights

import (
	"fmt"
	"sort"

	"github.com/espresso-hep/espresso/internal/corrections"
	"github.com/espresso-hep/espresso/internal/events"
)

// product is a running multiplicative weight: the total nominal column plus
// one ratio column per installed modifier token.
type product struct {
	size       int
	total      []float64
	ratios     map[string][]float64
	individual map[string][]float64
}

func newProduct(size int, storeIndividual bool) *product {
	p := &product{
		size:   size,
		total:  make([]float64, size),
		ratios: make(map[string][]float64),
	}
	for i := range p.total {
		p.total[i] = 1.0
	}
	if storeIndividual {
		p.individual = make(map[string][]float64)
	}
	return p
}

// add folds a computed value into the product: the nominal multiplies the
// total and each variation installs <name>Up / <name>Down ratio columns.
func (p *product) add(v *Value) error {
	if err := v.Validate(p.size); err != nil {
		return err
	}
	for i, name := range v.Variations {
		if _, ok := p.ratios[name+"Up"]; ok {
			return fmt.Errorf("modifier %q installed twice", name+"Up")
		}
		p.ratios[name+"Up"] = ratio(v.Up[i], v.Nominal)
		p.ratios[name+"Down"] = ratio(v.Down[i], v.Nominal)
	}
	for i, x := range v.Nominal {
		p.total[i] *= x
	}
	if p.individual != nil {
		p.individual[v.Name] = append([]float64(nil), v.Nominal...)
	}
	return nil
}

// ratio divides varied by nominal entrywise. Where the nominal is zero the
// varied value is kept as is, so a zero-weight event cannot poison the
// modifier column with NaN.
func ratio(varied, nominal []float64) []float64 {
	out := make([]float64, len(varied))
	for i := range varied {
		if nominal[i] != 0 {
			out[i] = varied[i] / nominal[i]
		} else {
			out[i] = varied[i]
		}
	}
	return out
}

func (p *product) has(modifier string) bool {
	_, ok := p.ratios[modifier]
	return ok
}

// weight returns a fresh column: the total, scaled by the modifier's ratio
// when one is named. Availability is the caller's concern.
func (p *product) weight(modifier string) []float64 {
	out := append([]float64(nil), p.total...)
	if modifier == "" {
		return out
	}
	r := p.ratios[modifier]
	for i := range out {
		out[i] *= r[i]
	}
	return out
}

func (p *product) modifiers() []string {
	out := make([]string, 0, len(p.ratios))
	for m := range p.ratios {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Accumulator holds the combined event weights of one (sample, chunk) pair:
// an inclusive product applied everywhere plus a dedicated product per
// category the sample splits on. Construction computes every configured
// weight exactly once per chunk through a local cache, which is discarded
// before the constructor returns. After construction the accumulator is
// read-only.
type Accumulator struct {
	size            int
	sample          string
	splitByCategory bool
	incl            *product
	byCat           map[string]*product
}

// NewAccumulator builds the weights of one chunk from the sample's resolved
// configuration. A string reference missing from the registry is skipped
// without error here: the configurator has already rejected names that are
// neither registered nor declared processor-provided, so whatever reaches
// this point is installed later through Add.
func NewAccumulator(cfg *SampleWeights, view events.View, reg *Registry, tables *corrections.Tables, storeIndividual bool) (*Accumulator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil weights configuration")
	}
	size := view.Size()
	a := &Accumulator{
		size:            size,
		sample:          cfg.Sample,
		splitByCategory: cfg.SplitByCategory,
		incl:            newProduct(size, storeIndividual),
		byCat:           make(map[string]*product),
	}

	ctx := NewComputeContext(view, tables)
	cache := make(map[string]*Value)
	compute := func(ref Ref) (*Value, error) {
		ident := ref.Ident()
		if v, ok := cache[ident]; ok {
			return v, nil
		}
		w := ref.Custom
		if w == nil {
			var err error
			w, err = reg.Lookup(ref.Name)
			if err != nil {
				return nil, nil
			}
		}
		v, err := w.Compute(ctx)
		if err != nil {
			return nil, fmt.Errorf("computing weight %q: %w", ident, err)
		}
		cache[ident] = v
		return v, nil
	}

	for _, ref := range cfg.Inclusive {
		v, err := compute(ref)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if err := a.incl.add(v); err != nil {
			return nil, fmt.Errorf("sample %q inclusive weights: %w", cfg.Sample, err)
		}
	}

	if cfg.SplitByCategory {
		cats := make([]string, 0, len(cfg.ByCategory))
		for cat, refs := range cfg.ByCategory {
			// Only categories with configured weights get a dedicated product.
			if len(refs) > 0 {
				cats = append(cats, cat)
			}
		}
		sort.Strings(cats)
		for _, cat := range cats {
			p := newProduct(size, storeIndividual)
			for _, ref := range cfg.ByCategory[cat] {
				v, err := compute(ref)
				if err != nil {
					return nil, err
				}
				if v == nil {
					continue
				}
				if err := p.add(v); err != nil {
					return nil, fmt.Errorf("sample %q category %q weights: %w", cfg.Sample, cat, err)
				}
			}
			a.byCat[cat] = p
		}
	}
	return a, nil
}

// normalizeModifier maps the spelled-out nominal token to the empty string,
// so callers can pass either.
func normalizeModifier(modifier string) string {
	if modifier == "nominal" {
		return ""
	}
	return modifier
}

// Weight returns the combined weight column for a category and modifier.
// An empty category, a sample that does not split by category, or a category
// without a dedicated product all resolve to the inclusive weight. For a
// category with a dedicated product the result is inclusive times category,
// with the modifier applied to exactly the scope that owns it; a modifier
// known to both scopes is ambiguous and rejected, one known to neither is
// unavailable. The returned slice is fresh and the caller may mutate it.
func (a *Accumulator) Weight(category, modifier string) ([]float64, error) {
	modifier = normalizeModifier(modifier)
	p, dedicated := a.byCat[category]
	if category == "" || !a.splitByCategory || !dedicated {
		if modifier != "" && !a.incl.has(modifier) {
			return nil, &ModifierNotAvailableError{Modifier: modifier, Sample: a.sample}
		}
		return a.incl.weight(modifier), nil
	}

	if modifier == "" {
		out := a.incl.weight("")
		for i, x := range p.total {
			out[i] *= x
		}
		return out, nil
	}

	modIncl, modCat := a.incl.has(modifier), p.has(modifier)
	switch {
	case modIncl && !modCat:
		out := a.incl.weight(modifier)
		for i, x := range p.total {
			out[i] *= x
		}
		return out, nil
	case modCat && !modIncl:
		out := p.weight(modifier)
		for i, x := range a.incl.total {
			out[i] *= x
		}
		return out, nil
	default:
		return nil, &ModifierNotAvailableError{Modifier: modifier, Category: category, Sample: a.sample}
	}
}

// Add installs a manually computed weight outside the registry flow. Up and
// down must be given together or not at all. An empty category targets the
// inclusive product; a named category must already hold a dedicated product.
func (a *Accumulator) Add(name string, nominal, up, down []float64, category string) error {
	var v *Value
	switch {
	case up == nil && down == nil:
		v = NewValue(name, nominal)
	case up != nil && down != nil:
		v = NewVariedValue(name, nominal, up, down)
	default:
		return fmt.Errorf("weight %q: up and down variations must be provided together", name)
	}
	if category == "" {
		if err := a.incl.add(v); err != nil {
			return fmt.Errorf("sample %q inclusive weights: %w", a.sample, err)
		}
		return nil
	}
	p, ok := a.byCat[category]
	if !ok {
		return fmt.Errorf("category %q has no dedicated weights for sample %q", category, a.sample)
	}
	if err := p.add(v); err != nil {
		return fmt.Errorf("sample %q category %q weights: %w", a.sample, category, err)
	}
	return nil
}

// Size returns the chunk size the accumulator was built for.
func (a *Accumulator) Size() int { return a.size }

// Sample returns the sample name.
func (a *Accumulator) Sample() string { return a.sample }

// SplitByCategory reports whether any category carries dedicated weights.
func (a *Accumulator) SplitByCategory() bool { return a.splitByCategory }

// Categories returns the sorted categories holding a dedicated product.
func (a *Accumulator) Categories() []string {
	out := make([]string, 0, len(a.byCat))
	for cat := range a.byCat {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// InclusiveModifiers returns the sorted modifier tokens of the inclusive
// scope.
func (a *Accumulator) InclusiveModifiers() []string {
	return a.incl.modifiers()
}

// CategoryModifiers returns the sorted modifier tokens owned by the
// category's dedicated product, empty when it has none.
func (a *Accumulator) CategoryModifiers(category string) []string {
	p, ok := a.byCat[category]
	if !ok {
		return nil
	}
	return p.modifiers()
}

// Modifiers returns the sorted union of modifier tokens Weight can serve
// for the category.
func (a *Accumulator) Modifiers(category string) []string {
	seen := make(map[string]bool)
	for _, m := range a.incl.modifiers() {
		seen[m] = true
	}
	if p, ok := a.byCat[category]; ok && a.splitByCategory {
		for _, m := range p.modifiers() {
			seen[m] = true
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// HasModifier reports whether Weight can serve the modifier for the
// category. The nominal spellings are always servable.
func (a *Accumulator) HasModifier(category, modifier string) bool {
	modifier = normalizeModifier(modifier)
	if modifier == "" {
		return true
	}
	p, dedicated := a.byCat[category]
	if category == "" || !a.splitByCategory || !dedicated {
		return a.incl.has(modifier)
	}
	modIncl, modCat := a.incl.has(modifier), p.has(modifier)
	return modIncl != modCat
}

// IndividualWeight returns the stored nominal column of one contributing
// weight. Available only when the accumulator was built with
// storeIndividual; the empty category addresses the inclusive product.
func (a *Accumulator) IndividualWeight(category, name string) ([]float64, error) {
	p := a.incl
	if category != "" {
		var ok bool
		p, ok = a.byCat[category]
		if !ok {
			return nil, fmt.Errorf("category %q has no dedicated weights for sample %q", category, a.sample)
		}
	}
	if p.individual == nil {
		return nil, fmt.Errorf("individual weights were not stored")
	}
	col, ok := p.individual[name]
	if !ok {
		return nil, fmt.Errorf("weight %q not present in the requested scope", name)
	}
	return append([]float64(nil), col...), nil
}
