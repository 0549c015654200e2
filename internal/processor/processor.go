package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/corrections"
	"github.com/espresso-hep/espresso/internal/events"
	"github.com/espresso-hep/espresso/internal/histogram"
	"github.com/espresso-hep/espresso/internal/selection"
	"github.com/espresso-hep/espresso/internal/weights"
)

// ColumnBlock is the exported column content of one (subsample, category)
// scope for one chunk: equal-length per-event arrays of the selected events.
type ColumnBlock struct {
	Sample    string               `json:"sample"`
	Subsample string               `json:"subsample"`
	Category  string               `json:"category"`
	Size      int                  `json:"size"`
	Columns   map[string][]float64 `json:"columns"`
}

// Result is the output of one processed chunk. Chunk results merge into the
// run result in the executor.
type Result struct {
	Sample    string
	Processed int
	Selected  int

	Histograms *histogram.Manager
	Columns    []ColumnBlock

	// Modifiers records the weight modifier tokens that were available per
	// category, for the run report.
	Modifiers map[string][]string
}

// Processor runs the per-chunk pipeline: skim, preselection, categorization,
// weight accumulation and histogram/column filling. One Processor serves all
// chunks of a run; it holds no per-chunk state.
type Processor struct {
	cfg    *analysis.Configurator
	reg    *weights.Registry
	tables *corrections.Tables
	logger *slog.Logger
}

// New builds a processor over a resolved configuration.
func New(cfg *analysis.Configurator, reg *weights.Registry, tables *corrections.Tables, logger *slog.Logger) *Processor {
	return &Processor{cfg: cfg, reg: reg, tables: tables, logger: logger}
}

// Process runs the pipeline on one chunk. Any error aborts the whole chunk;
// there are no partial results.
func (p *Processor) Process(ctx context.Context, chunk *events.Chunk) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta := chunk.Meta()
	sample := meta.Sample
	sw, err := p.cfg.WeightsFor(sample)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Sample:     sample,
		Processed:  chunk.Size(),
		Histograms: histogram.NewManager(sample, p.cfg.Variables()),
		Modifiers:  make(map[string][]string),
	}

	nominal := chunk.Nominal()
	base, catMasks, err := p.applySelection(nominal)
	if err != nil {
		return nil, err
	}
	res.Selected = selection.CountTrue(base)
	if res.Selected == 0 {
		return res, nil
	}

	acc, err := p.accumulate(sw, nominal, meta)
	if err != nil {
		return nil, err
	}
	for _, cat := range p.cfg.Categories().Categories() {
		mask := selection.And(base, catMasks[cat])
		if acc != nil {
			res.Modifiers[cat] = acc.Modifiers(cat)
		}
		if err := p.fill(res.Histograms, nominal, acc, sample, cat, events.ShapeNominal, mask); err != nil {
			return nil, err
		}
	}

	if err := p.fillShapes(ctx, res, chunk, sw); err != nil {
		return nil, err
	}
	if err := p.exportColumns(res, nominal, base, catMasks); err != nil {
		return nil, err
	}
	return res, nil
}

// applySelection evaluates skim, preselection and the category masks on one view.
func (p *Processor) applySelection(view events.View) ([]bool, map[string][]bool, error) {
	skim, err := selection.ApplyAll(p.cfg.SkimCuts(), view)
	if err != nil {
		return nil, nil, fmt.Errorf("skim: %w", err)
	}
	presel, err := selection.ApplyAll(p.cfg.PreselectionCuts(), view)
	if err != nil {
		return nil, nil, fmt.Errorf("preselection: %w", err)
	}
	catMasks, err := p.cfg.Categories().Masks(view)
	if err != nil {
		return nil, nil, err
	}
	return selection.And(skim, presel), catMasks, nil
}

// accumulate builds the weight accumulator for one view. Data chunks carry
// no weights: every event counts once and no modifier is available.
func (p *Processor) accumulate(sw *weights.SampleWeights, view events.View, meta events.Metadata) (*weights.Accumulator, error) {
	if !meta.IsMC {
		return nil, nil
	}
	return weights.NewAccumulator(sw, view, p.reg, p.tables, false)
}

// fill adds the nominal entry and, for the nominal shape, every configured
// weight variation of the category's scope.
func (p *Processor) fill(m *histogram.Manager, view events.View, acc *weights.Accumulator, sample, cat, variation string, mask []bool) error {
	w := ones(view.Size())
	if acc != nil {
		var err error
		w, err = acc.Weight(cat, "")
		if err != nil {
			return err
		}
	}
	if err := m.Fill(view, cat, variation, mask, w); err != nil {
		return err
	}
	if acc == nil || variation != events.ShapeNominal {
		return nil
	}
	for _, name := range p.cfg.WeightVariations(sample, cat) {
		for _, token := range []string{name + "Up", name + "Down"} {
			// A variation configured for the sample but emitted by a
			// weight the chunk's year does not carry is simply absent.
			if !acc.HasModifier(cat, token) {
				continue
			}
			wv, err := acc.Weight(cat, token)
			if err != nil {
				return err
			}
			if err := m.Fill(view, cat, token, mask, wv); err != nil {
				return err
			}
		}
	}
	return nil
}

// fillShapes reruns selection and weighting on each shape-shifted view. A
// shifted collection moves events between categories, so the masks are
// recomputed from scratch.
func (p *Processor) fillShapes(ctx context.Context, res *Result, chunk *events.Chunk, sw *weights.SampleWeights) error {
	meta := chunk.Meta()
	shapes := p.shapeUnion(meta.Sample)
	for _, shape := range shapes {
		if err := ctx.Err(); err != nil {
			return err
		}
		view := chunk.WithShape(shape)
		base, catMasks, err := p.applySelection(view)
		if err != nil {
			return fmt.Errorf("shape %s: %w", shape, err)
		}
		acc, err := p.accumulate(sw, view, meta)
		if err != nil {
			return fmt.Errorf("shape %s: %w", shape, err)
		}
		for _, cat := range p.cfg.Categories().Categories() {
			if !contains(p.cfg.ShapeVariations(meta.Sample, cat), shape) {
				continue
			}
			mask := selection.And(base, catMasks[cat])
			if err := p.fill(res.Histograms, view, acc, meta.Sample, cat, shape, mask); err != nil {
				return fmt.Errorf("shape %s: %w", shape, err)
			}
		}
	}
	return nil
}

func (p *Processor) shapeUnion(sample string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, cat := range p.cfg.Categories().Categories() {
		for _, s := range p.cfg.ShapeVariations(sample, cat) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// exportColumns extracts the configured output columns per (subsample,
// category) on the nominal view.
func (p *Processor) exportColumns(res *Result, view events.View, base []bool, catMasks map[string][]bool) error {
	sample := view.Meta().Sample
	subs := p.cfg.Subsamples(sample)
	if subs == nil {
		return nil
	}
	subMasks, err := subs.Masks(view)
	if err != nil {
		return err
	}
	for _, sub := range subs.Categories() {
		byCat := p.cfg.ColumnsFor(sub)
		for _, cat := range p.cfg.Categories().Categories() {
			names := byCat[cat]
			if len(names) == 0 {
				continue
			}
			mask := selection.And(base, catMasks[cat], subMasks[sub])
			n := selection.CountTrue(mask)
			block := ColumnBlock{
				Sample:    sample,
				Subsample: sub,
				Category:  cat,
				Size:      n,
				Columns:   make(map[string][]float64, len(names)),
			}
			for _, name := range names {
				col, err := observeColumn(view, name)
				if err != nil {
					return fmt.Errorf("column %q: %w", name, err)
				}
				block.Columns[name] = compress(col, mask, n)
			}
			res.Columns = append(res.Columns, block)
		}
	}
	return nil
}

// observeColumn reads a per-event column: the scalar when one exists, the
// per-event count of a jagged column otherwise.
func observeColumn(view events.View, name string) ([]float64, error) {
	if col, err := view.Column(name); err == nil {
		return col, nil
	}
	return view.Counts(name)
}

func compress(col []float64, mask []bool, n int) []float64 {
	out := make([]float64, 0, n)
	for i, x := range col {
		if mask[i] {
			out = append(out, x)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.0
	}
	return out
}
