package selection

import (
	"fmt"

	"github.com/espresso-hep/espresso/internal/events"
)

// Cut is one named selection requirement producing a per-event boolean mask.
// Params and Expr describe the cut in serialized configurations; Apply does
// the work.
type Cut struct {
	Name   string
	Params map[string]float64
	Expr   string
	Apply  func(view events.View) ([]bool, error)
}

// Mask evaluates the cut, wrapping failures with the cut name.
func (c *Cut) Mask(view events.View) ([]bool, error) {
	mask, err := c.Apply(view)
	if err != nil {
		return nil, fmt.Errorf("cut %q: %w", c.Name, err)
	}
	if len(mask) != view.Size() {
		return nil, fmt.Errorf("cut %q: mask has %d entries for %d events", c.Name, len(mask), view.Size())
	}
	return mask, nil
}

// Passthrough accepts every event.
func Passthrough() *Cut {
	return &Cut{
		Name: "passthrough",
		Apply: func(view events.View) ([]bool, error) {
			mask := make([]bool, view.Size())
			for i := range mask {
				mask[i] = true
			}
			return mask, nil
		},
	}
}

// MinJets requires at least n jets above the pt threshold.
func MinJets(n int, minPt float64) *Cut {
	return &Cut{
		Name:   "min_jets",
		Params: map[string]float64{"n": float64(n), "min_pt": minPt},
		Apply: func(view events.View) ([]bool, error) {
			return countAtLeast(view, "Jet_pt", n, minPt)
		},
	}
}

// MinBJets requires at least n jets whose b-tag discriminant passes the
// working point.
func MinBJets(n int, workingPoint float64) *Cut {
	return &Cut{
		Name:   "min_bjets",
		Params: map[string]float64{"n": float64(n), "working_point": workingPoint},
		Apply: func(view events.View) ([]bool, error) {
			disc, err := view.Jagged("Jet_btagDeepFlavB")
			if err != nil {
				return nil, err
			}
			mask := make([]bool, view.Size())
			for i := range mask {
				count := 0
				for _, d := range disc.Row(i) {
					if d >= workingPoint {
						count++
					}
				}
				mask[i] = count >= n
			}
			return mask, nil
		},
	}
}

// MinLeptons requires at least n leptons of the collection above the pt
// threshold. The object is the column prefix, "Electron" or "Muon".
func MinLeptons(object string, n int, minPt float64) *Cut {
	return &Cut{
		Name:   "min_" + object,
		Params: map[string]float64{"n": float64(n), "min_pt": minPt},
		Apply: func(view events.View) ([]bool, error) {
			return countAtLeast(view, object+"_pt", n, minPt)
		},
	}
}

// HTWindow requires the scalar jet pt sum inside [lo, hi). A non-positive hi
// leaves the window open above.
func HTWindow(lo, hi float64) *Cut {
	return &Cut{
		Name:   "ht_window",
		Params: map[string]float64{"lo": lo, "hi": hi},
		Apply: func(view events.View) ([]bool, error) {
			pts, err := view.Jagged("Jet_pt")
			if err != nil {
				return nil, err
			}
			mask := make([]bool, view.Size())
			for i := range mask {
				ht := 0.0
				for _, pt := range pts.Row(i) {
					ht += pt
				}
				mask[i] = ht >= lo && (hi <= 0 || ht < hi)
			}
			return mask, nil
		},
	}
}

// METAbove requires missing transverse energy at or above the threshold.
func METAbove(min float64) *Cut {
	return &Cut{
		Name:   "met_above",
		Params: map[string]float64{"min": min},
		Apply: func(view events.View) ([]bool, error) {
			met, err := view.Column("MET_pt")
			if err != nil {
				return nil, err
			}
			mask := make([]bool, len(met))
			for i, x := range met {
				mask[i] = x >= min
			}
			return mask, nil
		},
	}
}

func countAtLeast(view events.View, column string, n int, minVal float64) ([]bool, error) {
	col, err := view.Jagged(column)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, view.Size())
	for i := range mask {
		count := 0
		for _, x := range col.Row(i) {
			if x >= minVal {
				count++
			}
		}
		mask[i] = count >= n
	}
	return mask, nil
}

// And combines masks entrywise; a nil mask is treated as all-pass.
func And(masks ...[]bool) []bool {
	var out []bool
	for _, m := range masks {
		if m == nil {
			continue
		}
		if out == nil {
			out = append([]bool(nil), m...)
			continue
		}
		for i := range out {
			out[i] = out[i] && m[i]
		}
	}
	return out
}

// CountTrue returns the number of set entries.
func CountTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

// ApplyAll evaluates the cuts in order and returns their AND. An empty cut
// list accepts every event.
func ApplyAll(cuts []*Cut, view events.View) ([]bool, error) {
	mask := make([]bool, view.Size())
	for i := range mask {
		mask[i] = true
	}
	for _, c := range cuts {
		m, err := c.Mask(view)
		if err != nil {
			return nil, err
		}
		for i := range mask {
			mask[i] = mask[i] && m[i]
		}
	}
	return mask, nil
}

// Selection maps ordered category names to cut lists. Categories evaluate
// independently; an event can enter several.
type Selection struct {
	names []string
	cuts  map[string][]*Cut
}

// NewSelection creates an empty selection.
func NewSelection() *Selection {
	return &Selection{cuts: make(map[string][]*Cut)}
}

// Add appends a category with its cuts. Category names are unique.
func (s *Selection) Add(category string, cuts ...*Cut) error {
	if _, ok := s.cuts[category]; ok {
		return fmt.Errorf("category %q defined twice", category)
	}
	s.names = append(s.names, category)
	s.cuts[category] = cuts
	return nil
}

// Categories returns the category names in definition order.
func (s *Selection) Categories() []string {
	return append([]string(nil), s.names...)
}

// Has reports whether the category exists.
func (s *Selection) Has(category string) bool {
	_, ok := s.cuts[category]
	return ok
}

// CutsFor returns the cut list of a category, nil when absent.
func (s *Selection) CutsFor(category string) []*Cut {
	return s.cuts[category]
}

// Masks evaluates every category against the view.
func (s *Selection) Masks(view events.View) (map[string][]bool, error) {
	out := make(map[string][]bool, len(s.names))
	for _, name := range s.names {
		mask, err := ApplyAll(s.cuts[name], view)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", name, err)
		}
		out[name] = mask
	}
	return out, nil
}
