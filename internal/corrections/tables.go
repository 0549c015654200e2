package corrections

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Binned1D is a value with up/down bounds binned along one variable.
// Lookups clamp to the first/last bin.
type Binned1D struct {
	Edges   []float64 `json:"edges"`
	Nominal []float64 `json:"nominal"`
	Up      []float64 `json:"up,omitempty"`
	Down    []float64 `json:"down,omitempty"`
}

// At returns (nominal, up, down) for the bin containing x. Missing up/down
// tables fall back to the nominal value.
func (b *Binned1D) At(x float64) (float64, float64, float64) {
	i := binIndex(b.Edges, x)
	nom := b.Nominal[i]
	up, down := nom, nom
	if len(b.Up) == len(b.Nominal) {
		up = b.Up[i]
	}
	if len(b.Down) == len(b.Nominal) {
		down = b.Down[i]
	}
	return nom, up, down
}

func (b *Binned1D) validate() error {
	if len(b.Edges) < 2 {
		return fmt.Errorf("need at least 2 edges, got %d", len(b.Edges))
	}
	if len(b.Nominal) != len(b.Edges)-1 {
		return fmt.Errorf("%d nominal values for %d bins", len(b.Nominal), len(b.Edges)-1)
	}
	return nil
}

// Binned2D is a scale factor with symmetric error binned in (|eta|, pt).
type Binned2D struct {
	EtaEdges []float64   `json:"eta_edges"`
	PtEdges  []float64   `json:"pt_edges"`
	Value    [][]float64 `json:"value"`
	Err      [][]float64 `json:"err"`
}

// At returns (nominal, nominal+err, nominal-err) for the bin containing
// (|eta|, pt), clamping both axes to the table range.
func (b *Binned2D) At(eta, pt float64) (float64, float64, float64) {
	if eta < 0 {
		eta = -eta
	}
	i := binIndex(b.EtaEdges, eta)
	j := binIndex(b.PtEdges, pt)
	nom := b.Value[i][j]
	err := b.Err[i][j]
	return nom, nom + err, nom - err
}

func (b *Binned2D) validate() error {
	if len(b.EtaEdges) < 2 || len(b.PtEdges) < 2 {
		return fmt.Errorf("need at least 2 edges per axis")
	}
	if len(b.Value) != len(b.EtaEdges)-1 || len(b.Err) != len(b.EtaEdges)-1 {
		return fmt.Errorf("row count does not match eta binning")
	}
	for i := range b.Value {
		if len(b.Value[i]) != len(b.PtEdges)-1 || len(b.Err[i]) != len(b.PtEdges)-1 {
			return fmt.Errorf("row %d length does not match pt binning", i)
		}
	}
	return nil
}

// binIndex returns the bin holding x, clamped to [0, len(edges)-2].
func binIndex(edges []float64, x float64) int {
	if x < edges[0] {
		return 0
	}
	last := len(edges) - 2
	for i := 0; i < last; i++ {
		if x < edges[i+1] {
			return i
		}
	}
	return last
}

// BTagCalib holds per-year coefficients for the b-tag shape calibration,
// a linear correction in jet multiplicity and event HT.
type BTagCalib struct {
	Offset  float64 `json:"offset"`
	PerJet  float64 `json:"per_jet"`
	PerHT   float64 `json:"per_ht"`
	FloorSF float64 `json:"floor_sf"`
	CeilSF  float64 `json:"ceil_sf"`
}

// Tables bundles every correction input the weight built-ins need. Loaded
// once before processing and immutable afterwards.
type Tables struct {
	// Lumi is the integrated luminosity per year in /pb.
	Lumi map[string]float64 `json:"lumi"`
	// XSec is the per-sample cross section fallback in pb, used when the
	// dataset metadata does not carry one.
	XSec map[string]float64 `json:"xsec"`
	// Pileup holds per-year data/MC profile ratios vs true interactions.
	Pileup map[string]*Binned1D `json:"pileup"`

	EleReco map[string]*Binned2D `json:"ele_reco"`
	EleID   map[string]*Binned2D `json:"ele_id"`
	MuID    map[string]*Binned2D `json:"mu_id"`
	MuIso   map[string]*Binned2D `json:"mu_iso"`
	JetPuID map[string]*Binned2D `json:"jet_puid"`

	// BTagVariations lists the named b-tag systematics per year.
	BTagVariations map[string][]string `json:"btag_variations"`
	// BTagStrength is the fractional shift each named systematic applies
	// to the jets of its flavour class.
	BTagStrength map[string]float64 `json:"btag_strength"`

	Calib map[string]*BTagCalib `json:"btag_calib"`
}

// Years returns the years the luminosity table covers.
func (t *Tables) Years() []string {
	out := make([]string, 0, len(t.Lumi))
	for y := range t.Lumi {
		out = append(out, y)
	}
	return out
}

// LumiFor returns the integrated luminosity for a year.
func (t *Tables) LumiFor(year string) (float64, error) {
	l, ok := t.Lumi[year]
	if !ok {
		return 0, fmt.Errorf("no luminosity for year %q", year)
	}
	return l, nil
}

// Validate checks the structural invariants of every loaded table.
func (t *Tables) Validate() error {
	for year, b := range t.Pileup {
		if err := b.validate(); err != nil {
			return fmt.Errorf("pileup[%s]: %w", year, err)
		}
	}
	for name, m := range map[string]map[string]*Binned2D{
		"ele_reco": t.EleReco, "ele_id": t.EleID,
		"mu_id": t.MuID, "mu_iso": t.MuIso, "jet_puid": t.JetPuID,
	} {
		for year, b := range m {
			if err := b.validate(); err != nil {
				return fmt.Errorf("%s[%s]: %w", name, year, err)
			}
		}
	}
	return nil
}

// AllBTagVariations returns the union of the per-year b-tag systematic
// names, sorted by first appearance year order not guaranteed; callers sort.
func (t *Tables) AllBTagVariations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, vars := range t.BTagVariations {
		for _, v := range vars {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Load reads corrections.json from dir and overlays it on the defaults,
// entry by entry: a year present in the file replaces that year's default,
// years absent from the file keep theirs.
func Load(dir string) (*Tables, error) {
	t := Defaults()
	path := filepath.Join(dir, "corrections.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corrections table: %w", err)
	}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parsing corrections table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid corrections table: %w", err)
	}
	return t, nil
}
