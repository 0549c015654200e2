package corrections

import (
	"fmt"
	"strings"

	"github.com/espresso-hep/espresso/internal/events"
)

// PileupWeight returns the per-event data/MC pileup reweighting factor with
// its minimum-bias shift bounds, looked up from the true-interactions column.
func (t *Tables) PileupWeight(v events.View, year string) ([]float64, []float64, []float64, error) {
	profile, ok := t.Pileup[year]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no pileup profile for year %q", year)
	}
	nTrue, err := v.Column("Pileup_nTrueInt")
	if err != nil {
		return nil, nil, nil, err
	}
	size := v.Size()
	nom := make([]float64, size)
	up := make([]float64, size)
	down := make([]float64, size)
	for i, n := range nTrue {
		nom[i], up[i], down[i] = profile.At(n)
	}
	return nom, up, down, nil
}

// ElectronRecoSF returns the per-event electron reconstruction scale factor.
func (t *Tables) ElectronRecoSF(v events.View, year string) ([]float64, []float64, []float64, error) {
	return t.leptonSF(v, year, t.EleReco, "ele_reco", "Electron")
}

// ElectronIDSF returns the per-event electron identification scale factor.
func (t *Tables) ElectronIDSF(v events.View, year string) ([]float64, []float64, []float64, error) {
	return t.leptonSF(v, year, t.EleID, "ele_id", "Electron")
}

// MuonIDSF returns the per-event muon identification scale factor.
func (t *Tables) MuonIDSF(v events.View, year string) ([]float64, []float64, []float64, error) {
	return t.leptonSF(v, year, t.MuID, "mu_id", "Muon")
}

// MuonIsoSF returns the per-event muon isolation scale factor.
func (t *Tables) MuonIsoSF(v events.View, year string) ([]float64, []float64, []float64, error) {
	return t.leptonSF(v, year, t.MuIso, "mu_iso", "Muon")
}

// leptonSF multiplies the binned per-lepton factor over the collection.
// The shift is applied coherently to every lepton in the event.
func (t *Tables) leptonSF(v events.View, year string, tables map[string]*Binned2D, kind, obj string) ([]float64, []float64, []float64, error) {
	table, ok := tables[year]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no %s table for year %q", kind, year)
	}
	pts, err := v.Jagged(obj + "_pt")
	if err != nil {
		return nil, nil, nil, err
	}
	etas, err := v.Jagged(obj + "_eta")
	if err != nil {
		return nil, nil, nil, err
	}
	size := v.Size()
	nom := ones(size)
	up := ones(size)
	down := ones(size)
	for i := 0; i < size; i++ {
		ptRow, etaRow := pts.Row(i), etas.Row(i)
		if len(ptRow) != len(etaRow) {
			return nil, nil, nil, fmt.Errorf("%s pt/eta mismatch at event %d: %d vs %d",
				obj, i, len(ptRow), len(etaRow))
		}
		for k := range ptRow {
			n, u, d := table.At(etaRow[k], ptRow[k])
			nom[i] *= n
			up[i] *= u
			down[i] *= d
		}
	}
	return nom, up, down, nil
}

// jetPuIDMaxPt bounds the pileup jet ID application range.
const jetPuIDMaxPt = 50.0

// JetPuIdSF returns the per-event pileup jet identification scale factor,
// a product over jets below the puId pt threshold.
func (t *Tables) JetPuIdSF(v events.View, year string) ([]float64, []float64, []float64, error) {
	table, ok := t.JetPuID[year]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no jet_puid table for year %q", year)
	}
	pts, err := v.Jagged("Jet_pt")
	if err != nil {
		return nil, nil, nil, err
	}
	etas, err := v.Jagged("Jet_eta")
	if err != nil {
		return nil, nil, nil, err
	}
	size := v.Size()
	nom := ones(size)
	up := ones(size)
	down := ones(size)
	for i := 0; i < size; i++ {
		ptRow, etaRow := pts.Row(i), etas.Row(i)
		if len(ptRow) != len(etaRow) {
			return nil, nil, nil, fmt.Errorf("Jet pt/eta mismatch at event %d", i)
		}
		for k := range ptRow {
			if ptRow[k] >= jetPuIDMaxPt {
				continue
			}
			n, u, d := table.At(etaRow[k], ptRow[k])
			nom[i] *= n
			up[i] *= u
			down[i] *= d
		}
	}
	return nom, up, down, nil
}

// BTagResult carries the central b-tagging scale factor and its named
// systematic variations, all as per-event products over the jet collection.
type BTagResult struct {
	Variations []string
	Central    []float64
	Up         [][]float64
	Down       [][]float64
}

// BTagSF computes the per-event b-tagging scale factor for the year's
// configured systematic set. Each variation shifts only the jets of its
// flavour class; the central factor multiplies all jets.
func (t *Tables) BTagSF(v events.View, year string) (*BTagResult, error) {
	variations, ok := t.BTagVariations[year]
	if !ok {
		return nil, fmt.Errorf("no btag variations for year %q", year)
	}
	pts, err := v.Jagged("Jet_pt")
	if err != nil {
		return nil, err
	}
	flavs, err := v.Jagged("Jet_hadronFlavour")
	if err != nil {
		return nil, err
	}
	size := v.Size()
	res := &BTagResult{
		Variations: append([]string(nil), variations...),
		Central:    ones(size),
		Up:         make([][]float64, len(variations)),
		Down:       make([][]float64, len(variations)),
	}
	for vi := range variations {
		res.Up[vi] = ones(size)
		res.Down[vi] = ones(size)
	}
	for i := 0; i < size; i++ {
		ptRow, flavRow := pts.Row(i), flavs.Row(i)
		if len(ptRow) != len(flavRow) {
			return nil, fmt.Errorf("Jet pt/flavour mismatch at event %d", i)
		}
		for k := range ptRow {
			flav := int(flavRow[k])
			sf := btagCentralSF(flav, ptRow[k])
			res.Central[i] *= sf
			for vi, name := range variations {
				if btagAffects(name, flav) {
					s := t.BTagStrength[name]
					res.Up[vi][i] *= sf * (1 + s)
					res.Down[vi][i] *= sf * (1 - s)
				} else {
					res.Up[vi][i] *= sf
					res.Down[vi][i] *= sf
				}
			}
		}
	}
	return res, nil
}

// btagCentralSF parameterizes the central per-jet scale factor by hadron
// flavour and pt.
func btagCentralSF(flav int, pt float64) float64 {
	switch flav {
	case 5:
		return clampSF(0.957-0.0001*pt, 0.85, 1.00)
	case 4:
		return clampSF(0.970-0.00005*pt, 0.85, 1.05)
	default:
		return clampSF(1.060+0.0002*pt, 1.00, 1.25)
	}
}

// btagAffects reports whether a named systematic shifts jets of the given
// hadron flavour. Heavy-flavour systematics move b jets, light-flavour ones
// move udsg jets, and the charm uncertainties move c jets.
func btagAffects(variation string, flav int) bool {
	switch {
	case strings.HasPrefix(variation, "hf"):
		return flav == 5
	case strings.HasPrefix(variation, "lf"):
		return flav == 0
	case strings.HasPrefix(variation, "cferr"):
		return flav == 4
	}
	return false
}

// BTagCalibSF returns the shape calibration factor, linear in jet
// multiplicity and HT, clamped to the configured window.
func (t *Tables) BTagCalibSF(v events.View, year string) ([]float64, error) {
	calib, ok := t.Calib[year]
	if !ok {
		return nil, fmt.Errorf("no btag calibration for year %q", year)
	}
	pts, err := v.Jagged("Jet_pt")
	if err != nil {
		return nil, err
	}
	size := v.Size()
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		row := pts.Row(i)
		ht := 0.0
		for _, pt := range row {
			ht += abs(pt)
		}
		sf := calib.Offset + calib.PerJet*float64(len(row)) + calib.PerHT*ht/1000.0
		out[i] = clampSF(sf, calib.FloorSF, calib.CeilSF)
	}
	return out, nil
}

func clampSF(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.0
	}
	return out
}
