package source

import (
	"context"
	"io"
	"math"
	"math/rand"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/events"
)

// Synthetic generates deterministic pseudodata: the standard column set with
// jes shape overlays, seeded per (dataset, chunk index) so reruns produce
// identical chunks. Used for tests, demos and datasets without files.
type Synthetic struct{}

const defaultSyntheticEvents = 10000

// Open prepares the generator for a dataset.
func (Synthetic) Open(ctx context.Context, ds analysis.DatasetDef) (Reader, error) {
	total := ds.Events
	if total <= 0 {
		total = defaultSyntheticEvents
	}
	return &syntheticReader{
		ctx:   ctx,
		meta:  metadataFor(ds),
		seed:  seedFor(ds.Name),
		total: total,
	}, nil
}

type syntheticReader struct {
	ctx   context.Context
	meta  events.Metadata
	seed  int64
	total int
	done  int
	index int
}

func seedFor(name string) int64 {
	var h int64 = 1469598103934665603
	for _, c := range name {
		h ^= int64(c)
		h *= 1099511628211
	}
	return h
}

func (r *syntheticReader) Next(maxEvents int) (*events.Chunk, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	if r.done >= r.total {
		return nil, io.EOF
	}
	if maxEvents <= 0 {
		maxEvents = defaultSyntheticEvents
	}
	n := r.total - r.done
	if n > maxEvents {
		n = maxEvents
	}

	rng := rand.New(rand.NewSource(r.seed + int64(r.index)))
	chunk, err := generate(rng, n, r.meta)
	if err != nil {
		return nil, err
	}
	r.done += n
	r.index++
	return chunk, nil
}

func (r *syntheticReader) Close() error { return nil }

func generate(rng *rand.Rand, n int, meta events.Metadata) (*events.Chunk, error) {
	genWeight := make([]float64, n)
	metPt := make([]float64, n)
	metPhi := make([]float64, n)
	npvs := make([]float64, n)
	nTrueInt := make([]float64, n)
	lheHT := make([]float64, n)
	eventNo := make([]float64, n)

	jetOffsets := make([]int, 0, n+1)
	jetOffsets = append(jetOffsets, 0)
	var jetPt, jetPtUp, jetPtDown, jetEta, jetBtag, jetHadronFlavour []float64

	eleOffsets := make([]int, 0, n+1)
	eleOffsets = append(eleOffsets, 0)
	var elePt, eleEta []float64

	muOffsets := make([]int, 0, n+1)
	muOffsets = append(muOffsets, 0)
	var muPt, muEta []float64

	for i := 0; i < n; i++ {
		genWeight[i] = 1.0
		if rng.Float64() < 0.05 {
			genWeight[i] = -1.0
		}
		metPt[i] = rng.ExpFloat64() * 40
		metPhi[i] = (rng.Float64() - 0.5) * 2 * math.Pi
		npvs[i] = math.Floor(rng.NormFloat64()*8 + 30)
		nTrueInt[i] = math.Max(0, rng.NormFloat64()*10+32)
		lheHT[i] = rng.ExpFloat64() * 150
		eventNo[i] = float64(i)

		nJet := 2 + rng.Intn(7)
		for j := 0; j < nJet; j++ {
			pt := 25 + rng.ExpFloat64()*50
			jetPt = append(jetPt, pt)
			jetPtUp = append(jetPtUp, pt*1.03)
			jetPtDown = append(jetPtDown, pt*0.97)
			jetEta = append(jetEta, rng.NormFloat64()*1.2)
			jetBtag = append(jetBtag, rng.Float64())
			flav := 0.0
			switch {
			case rng.Float64() < 0.2:
				flav = 5
			case rng.Float64() < 0.1:
				flav = 4
			}
			jetHadronFlavour = append(jetHadronFlavour, flav)
		}
		jetOffsets = append(jetOffsets, len(jetPt))

		nEle := rng.Intn(3)
		for j := 0; j < nEle; j++ {
			elePt = append(elePt, 15+rng.ExpFloat64()*30)
			eleEta = append(eleEta, rng.NormFloat64()*1.0)
		}
		eleOffsets = append(eleOffsets, len(elePt))

		nMu := rng.Intn(3)
		for j := 0; j < nMu; j++ {
			muPt = append(muPt, 15+rng.ExpFloat64()*25)
			muEta = append(muEta, rng.NormFloat64()*1.0)
		}
		muOffsets = append(muOffsets, len(muPt))
	}

	chunk := events.New(n, meta)
	scalars := map[string][]float64{
		"genWeight":       genWeight,
		"MET_pt":          metPt,
		"MET_phi":         metPhi,
		"PV_npvs":         npvs,
		"Pileup_nTrueInt": nTrueInt,
		"LHE_HT":          lheHT,
		"event":           eventNo,
	}
	for name, col := range scalars {
		if err := chunk.SetColumn(name, col); err != nil {
			return nil, err
		}
	}
	jaggeds := []struct {
		name    string
		offsets []int
		values  []float64
	}{
		{"Jet_pt", jetOffsets, jetPt},
		{"Jet_pt.jesUp", jetOffsets, jetPtUp},
		{"Jet_pt.jesDown", jetOffsets, jetPtDown},
		{"Jet_eta", jetOffsets, jetEta},
		{"Jet_btagDeepFlavB", jetOffsets, jetBtag},
		{"Jet_hadronFlavour", jetOffsets, jetHadronFlavour},
		{"Electron_pt", eleOffsets, elePt},
		{"Electron_eta", eleOffsets, eleEta},
		{"Muon_pt", muOffsets, muPt},
		{"Muon_eta", muOffsets, muEta},
	}
	for _, jg := range jaggeds {
		if err := chunk.SetJagged(jg.name, jg.offsets, jg.values); err != nil {
			return nil, err
		}
	}
	return chunk, nil
}
