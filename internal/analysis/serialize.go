package analysis

import (
	"github.com/espresso-hep/espresso/internal/histogram"
	"github.com/espresso-hep/espresso/internal/selection"
	"github.com/espresso-hep/espresso/internal/weights"
)

// Document is the JSON-safe dump of a resolved configuration, written next
// to the run outputs so a result can always be traced back to the exact
// weight / variation / column assignment that produced it. Inline weights
// serialize as name plus expressions, never code.
type Document struct {
	Datasets   []DatasetDef             `json:"datasets"`
	Samples    []string                 `json:"samples"`
	Skim       []CutDoc                 `json:"skim,omitempty"`
	Presel     []CutDoc                 `json:"preselection,omitempty"`
	Categories []CategoryDoc            `json:"categories"`
	Subsamples map[string][]string      `json:"subsamples"`
	Weights    map[string]WeightsDoc    `json:"weights"`
	Variations map[string]VariationsDoc `json:"variations"`
	Columns    map[string]ColumnsDoc    `json:"columns"`
	Variables  []histogram.VariableSpec `json:"variables"`
}

// CutDoc records one cut by name and parameters.
type CutDoc struct {
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params,omitempty"`
	Expr   string             `json:"expr,omitempty"`
}

// CategoryDoc records one category and its cuts.
type CategoryDoc struct {
	Name string   `json:"name"`
	Cuts []CutDoc `json:"cuts"`
}

// WeightDoc records one resolved weight reference.
type WeightDoc struct {
	Name string            `json:"name"`
	Expr *weights.ExprSpec `json:"expr,omitempty"`
}

// WeightsDoc records the resolved weight assignment of one sample.
type WeightsDoc struct {
	Inclusive       []WeightDoc            `json:"inclusive"`
	ByCategory      map[string][]WeightDoc `json:"bycategory,omitempty"`
	SplitByCategory bool                   `json:"is_split_bycat"`
}

// VariationsDoc records the flattened variation assignment of one sample.
type VariationsDoc struct {
	Weights map[string][]string `json:"weights"`
	Shape   map[string][]string `json:"shape"`
}

// ColumnsDoc records the per-category column assignment of one subsample.
type ColumnsDoc map[string][]string

func cutDocs(cuts []*selection.Cut) []CutDoc {
	out := make([]CutDoc, 0, len(cuts))
	for _, c := range cuts {
		out = append(out, CutDoc{Name: c.Name, Params: c.Params, Expr: c.Expr})
	}
	return out
}

func weightDocs(refs []weights.Ref) []WeightDoc {
	out := make([]WeightDoc, 0, len(refs))
	for _, r := range refs {
		doc := WeightDoc{Name: r.Ident()}
		if r.Custom != nil {
			doc.Expr = r.Custom.Expr
		}
		out = append(out, doc)
	}
	return out
}

// Serialize dumps the resolved configuration.
func (c *Configurator) Serialize() *Document {
	doc := &Document{
		Datasets:   c.Datasets(),
		Samples:    c.Samples(),
		Skim:       cutDocs(c.skim),
		Presel:     cutDocs(c.presel),
		Subsamples: make(map[string][]string, len(c.samples)),
		Weights:    make(map[string]WeightsDoc, len(c.samples)),
		Variations: make(map[string]VariationsDoc, len(c.samples)),
		Columns:    make(map[string]ColumnsDoc),
		Variables:  c.Variables(),
	}

	for _, cat := range c.categories.Categories() {
		doc.Categories = append(doc.Categories, CategoryDoc{
			Name: cat,
			Cuts: cutDocs(c.categories.CutsFor(cat)),
		})
	}
	for _, s := range c.samples {
		doc.Subsamples[s] = c.subsamples[s].Categories()

		sw := c.weightsBySample[s]
		wd := WeightsDoc{
			Inclusive:       weightDocs(sw.Inclusive),
			SplitByCategory: sw.SplitByCategory,
		}
		if len(sw.ByCategory) > 0 {
			wd.ByCategory = make(map[string][]WeightDoc, len(sw.ByCategory))
			for cat, refs := range sw.ByCategory {
				wd.ByCategory[cat] = weightDocs(refs)
			}
		}
		doc.Weights[s] = wd

		doc.Variations[s] = VariationsDoc{
			Weights: c.weightVars[s],
			Shape:   c.shapeVars[s],
		}
	}
	for sub, cols := range c.columns {
		doc.Columns[sub] = cols
	}
	return doc
}
