package weights

import (
	"fmt"
	"sort"

	"github.com/espresso-hep/espresso/internal/corrections"
	"github.com/espresso-hep/espresso/internal/events"
)

// RegisterBuiltins installs the standard weight set into reg. The tables
// argument supplies the per-year b-tag systematic names that sf_btag
// declares; the same tables are consulted again at compute time through the
// ComputeContext.
func RegisterBuiltins(reg *Registry, tables *corrections.Tables) error {
	btagVars := tables.AllBTagVariations()
	sort.Strings(btagVars)
	prefixed := make([]string, len(btagVars))
	for i, v := range btagVars {
		prefixed[i] = "sf_btag_" + v
	}

	entries := []*Weight{
		{
			Name: "genWeight",
			Compute: func(ctx *ComputeContext) (*Value, error) {
				col, err := ctx.View.Column("genWeight")
				if err != nil {
					return nil, err
				}
				return NewValue("genWeight", col), nil
			},
		},
		{
			Name: "lumi",
			Compute: func(ctx *ComputeContext) (*Value, error) {
				l, err := ctx.Tables.LumiFor(ctx.Meta.Year)
				if err != nil {
					return nil, err
				}
				return NewValue("lumi", constant(ctx.Size, l)), nil
			},
		},
		{
			Name: "XS",
			Compute: func(ctx *ComputeContext) (*Value, error) {
				xs := ctx.Meta.XSec
				if xs == 0 {
					var ok bool
					xs, ok = ctx.Tables.XSec[ctx.Meta.Sample]
					if !ok {
						return nil, fmt.Errorf("no cross section for sample %q", ctx.Meta.Sample)
					}
				}
				return NewValue("XS", constant(ctx.Size, xs)), nil
			},
		},
		{
			Name:       "pileup",
			Variations: []string{"pileup"},
			Compute: func(ctx *ComputeContext) (*Value, error) {
				nom, up, down, err := ctx.Tables.PileupWeight(ctx.View, ctx.Meta.Year)
				if err != nil {
					return nil, err
				}
				return NewVariedValue("pileup", nom, up, down), nil
			},
		},
		variedSF("sf_ele_reco", (*corrections.Tables).ElectronRecoSF),
		variedSF("sf_ele_id", (*corrections.Tables).ElectronIDSF),
		variedSF("sf_mu_id", (*corrections.Tables).MuonIDSF),
		variedSF("sf_mu_iso", (*corrections.Tables).MuonIsoSF),
		variedSF("sf_jet_puId", (*corrections.Tables).JetPuIdSF),
		{
			Name:       "sf_btag",
			Variations: prefixed,
			Compute: func(ctx *ComputeContext) (*Value, error) {
				res, err := ctx.Tables.BTagSF(ctx.View, ctx.Meta.Year)
				if err != nil {
					return nil, err
				}
				names := make([]string, len(res.Variations))
				for i, v := range res.Variations {
					names[i] = "sf_btag_" + v
				}
				return NewMultiVariedValue("sf_btag", res.Central, names, res.Up, res.Down), nil
			},
		},
		{
			Name: "sf_btag_calib",
			Compute: func(ctx *ComputeContext) (*Value, error) {
				sf, err := ctx.Tables.BTagCalibSF(ctx.View, ctx.Meta.Year)
				if err != nil {
					return nil, err
				}
				return NewValue("sf_btag_calib", sf), nil
			},
		},
	}

	for _, w := range entries {
		if err := reg.Register(w); err != nil {
			return err
		}
	}
	return nil
}

// variedSF builds the entry for a single-systematic scale factor whose
// variation carries the weight's own name.
func variedSF(name string, fn func(*corrections.Tables, events.View, string) ([]float64, []float64, []float64, error)) *Weight {
	return &Weight{
		Name:       name,
		Variations: []string{name},
		Compute: func(ctx *ComputeContext) (*Value, error) {
			nom, up, down, err := fn(ctx.Tables, ctx.View, ctx.Meta.Year)
			if err != nil {
				return nil, err
			}
			return NewVariedValue(name, nom, up, down), nil
		},
	}
}

func constant(size int, x float64) []float64 {
	out := make([]float64, size)
	for i := range out {
		out[i] = x
	}
	return out
}
