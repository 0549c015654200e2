package histogram

import (
	"fmt"
	"sort"

	"github.com/espresso-hep/espresso/internal/events"
)

// Axis is one binning: regular when built from (bins, lo, hi), variable when
// built from explicit edges.
type Axis struct {
	Name  string
	Label string
	Edges []float64
}

// NewAxis builds a regular binning with bins equal-width bins over [lo, hi).
func NewAxis(name, label string, bins int, lo, hi float64) (Axis, error) {
	if bins < 1 || hi <= lo {
		return Axis{}, fmt.Errorf("axis %q: need bins >= 1 and hi > lo", name)
	}
	edges := make([]float64, bins+1)
	width := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[bins] = hi
	return Axis{Name: name, Label: label, Edges: edges}, nil
}

// NewVariableAxis builds a binning from explicit, strictly increasing edges.
func NewVariableAxis(name, label string, edges []float64) (Axis, error) {
	if len(edges) < 2 {
		return Axis{}, fmt.Errorf("axis %q: need at least 2 edges", name)
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return Axis{}, fmt.Errorf("axis %q: edges must increase", name)
		}
	}
	return Axis{Name: name, Label: label, Edges: append([]float64(nil), edges...)}, nil
}

// Bins returns the number of in-range bins.
func (a Axis) Bins() int { return len(a.Edges) - 1 }

// FindBin returns the in-range bin index of x, -1 for underflow and Bins()
// for overflow.
func (a Axis) FindBin(x float64) int {
	if x < a.Edges[0] {
		return -1
	}
	if x >= a.Edges[len(a.Edges)-1] {
		return a.Bins()
	}
	lo, hi := 0, a.Bins()-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if x >= a.Edges[mid] {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// Hist1D is a weighted 1D histogram with under/overflow. SumW and SumW2 hold
// Bins()+2 entries: index 0 is underflow, the last is overflow.
type Hist1D struct {
	Axis    Axis
	SumW    []float64
	SumW2   []float64
	Entries int64
}

// NewHist1D creates an empty histogram over the axis.
func NewHist1D(axis Axis) *Hist1D {
	n := axis.Bins() + 2
	return &Hist1D{Axis: axis, SumW: make([]float64, n), SumW2: make([]float64, n)}
}

// Fill adds one weighted entry.
func (h *Hist1D) Fill(x, w float64) {
	i := h.Axis.FindBin(x) + 1
	h.SumW[i] += w
	h.SumW2[i] += w * w
	h.Entries++
}

// FillMasked adds the selected entries of a column with per-event weights.
// A nil mask selects everything.
func (h *Hist1D) FillMasked(values, weights []float64, mask []bool) error {
	if len(values) != len(weights) {
		return fmt.Errorf("histogram %q: %d values for %d weights", h.Axis.Name, len(values), len(weights))
	}
	if mask != nil && len(mask) != len(values) {
		return fmt.Errorf("histogram %q: mask has %d entries for %d values", h.Axis.Name, len(mask), len(values))
	}
	for i, x := range values {
		if mask != nil && !mask[i] {
			continue
		}
		h.Fill(x, weights[i])
	}
	return nil
}

// Merge adds another histogram with the same binning.
func (h *Hist1D) Merge(other *Hist1D) error {
	if len(h.SumW) != len(other.SumW) {
		return fmt.Errorf("histogram %q: merging incompatible binnings", h.Axis.Name)
	}
	for i := range h.SumW {
		h.SumW[i] += other.SumW[i]
		h.SumW2[i] += other.SumW2[i]
	}
	h.Entries += other.Entries
	return nil
}

// Integral returns the total weight including under/overflow.
func (h *Hist1D) Integral() float64 {
	sum := 0.0
	for _, w := range h.SumW {
		sum += w
	}
	return sum
}

// VariableSpec is the configuration form of one observable to histogram.
// Reduce selects how a jagged column collapses per event: "" reads a scalar
// column, "count" the multiplicity, "leading" the first value, "sum" the
// per-event sum.
type VariableSpec struct {
	Name   string    `yaml:"name" json:"name"`
	Label  string    `yaml:"label,omitempty" json:"label,omitempty"`
	Column string    `yaml:"column,omitempty" json:"column,omitempty"`
	Reduce string    `yaml:"reduce,omitempty" json:"reduce,omitempty"`
	Bins   int       `yaml:"bins,omitempty" json:"bins,omitempty"`
	Lo     float64   `yaml:"lo,omitempty" json:"lo,omitempty"`
	Hi     float64   `yaml:"hi,omitempty" json:"hi,omitempty"`
	Edges  []float64 `yaml:"edges,omitempty" json:"edges,omitempty"`
}

// DefaultVariables is the observable set used when a configuration declares
// none.
func DefaultVariables() []VariableSpec {
	return []VariableSpec{
		{Name: "nJet", Column: "Jet_pt", Reduce: "count", Bins: 12, Lo: 0, Hi: 12},
		{Name: "jet_pt_leading", Label: "Leading jet p_T", Column: "Jet_pt", Reduce: "leading", Bins: 40, Lo: 0, Hi: 400},
		{Name: "ht", Label: "H_T", Column: "Jet_pt", Reduce: "sum", Bins: 50, Lo: 0, Hi: 1000},
		{Name: "met_pt", Label: "MET p_T", Column: "MET_pt", Bins: 40, Lo: 0, Hi: 200},
	}
}

// BuildAxis materializes the binning, preferring explicit edges.
func (s VariableSpec) BuildAxis() (Axis, error) {
	if len(s.Edges) > 0 {
		return NewVariableAxis(s.Name, s.Label, s.Edges)
	}
	bins, lo, hi := s.Bins, s.Lo, s.Hi
	if bins == 0 {
		bins, lo, hi = 50, 0, 500
	}
	return NewAxis(s.Name, s.Label, bins, lo, hi)
}

// Observe extracts the per-event values of the observable from a chunk view.
func (s VariableSpec) Observe(view events.View) ([]float64, error) {
	column := s.Column
	if column == "" {
		column = s.Name
	}
	switch s.Reduce {
	case "":
		return view.Column(column)
	case "count":
		return view.Counts(column)
	case "leading":
		j, err := view.Jagged(column)
		if err != nil {
			return nil, err
		}
		out := make([]float64, j.Rows())
		for i := range out {
			if row := j.Row(i); len(row) > 0 {
				out[i] = row[0]
			}
		}
		return out, nil
	case "sum":
		j, err := view.Jagged(column)
		if err != nil {
			return nil, err
		}
		out := make([]float64, j.Rows())
		for i := range out {
			for _, x := range j.Row(i) {
				out[i] += x
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("variable %q: unknown reduce %q", s.Name, s.Reduce)
	}
}

type key struct {
	Variable  string
	Category  string
	Variation string
}

// Manager fills one histogram per (variable, category, variation) for one
// sample. Chunk-level managers merge into a run-level one.
type Manager struct {
	sample string
	specs  []VariableSpec
	hists  map[key]*Hist1D
}

// NewManager creates an empty manager over the variable set.
func NewManager(sample string, specs []VariableSpec) *Manager {
	return &Manager{sample: sample, specs: specs, hists: make(map[key]*Hist1D)}
}

// Sample returns the sample the manager fills for.
func (m *Manager) Sample() string { return m.sample }

// Fill observes every variable on the view and fills the (category,
// variation) histograms with the masked, weighted entries.
func (m *Manager) Fill(view events.View, category, variation string, mask []bool, weights []float64) error {
	for _, spec := range m.specs {
		values, err := spec.Observe(view)
		if err != nil {
			return fmt.Errorf("variable %q: %w", spec.Name, err)
		}
		k := key{Variable: spec.Name, Category: category, Variation: variation}
		h, ok := m.hists[k]
		if !ok {
			axis, err := spec.BuildAxis()
			if err != nil {
				return err
			}
			h = NewHist1D(axis)
			m.hists[k] = h
		}
		if err := h.FillMasked(values, weights, mask); err != nil {
			return err
		}
	}
	return nil
}

// Merge folds another manager for the same sample into this one.
func (m *Manager) Merge(other *Manager) error {
	if other.sample != m.sample {
		return fmt.Errorf("merging histograms of sample %q into %q", other.sample, m.sample)
	}
	for k, h := range other.hists {
		existing, ok := m.hists[k]
		if !ok {
			m.hists[k] = h
			continue
		}
		if err := existing.Merge(h); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is the serializable form of one filled histogram.
type Snapshot struct {
	Sample    string    `json:"sample"`
	Variable  string    `json:"variable"`
	Category  string    `json:"category"`
	Variation string    `json:"variation"`
	Edges     []float64 `json:"edges"`
	SumW      []float64 `json:"sumw"`
	SumW2     []float64 `json:"sumw2"`
	Entries   int64     `json:"entries"`
}

// Snapshots dumps every histogram, ordered for reproducible output.
func (m *Manager) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(m.hists))
	for k, h := range m.hists {
		out = append(out, Snapshot{
			Sample:    m.sample,
			Variable:  k.Variable,
			Category:  k.Category,
			Variation: k.Variation,
			Edges:     h.Axis.Edges,
			SumW:      h.SumW,
			SumW2:     h.SumW2,
			Entries:   h.Entries,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Variable != b.Variable {
			return a.Variable < b.Variable
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Variation < b.Variation
	})
	return out
}

// Lookup returns the histogram of one (variable, category, variation), nil
// when nothing was filled for it.
func (m *Manager) Lookup(variable, category, variation string) *Hist1D {
	return m.hists[key{Variable: variable, Category: category, Variation: variation}]
}
