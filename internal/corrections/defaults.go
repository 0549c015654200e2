package corrections

// Defaults returns a compiled-in correction set covering 2016-2018, so a
// deployment without external table files still produces sensible weights.
// Production runs overlay measured tables via Load.
func Defaults() *Tables {
	return &Tables{
		Lumi: map[string]float64{
			"2016": 36330.0,
			"2017": 41480.0,
			"2018": 59830.0,
		},
		XSec: map[string]float64{
			"TTToSemiLeptonic": 365.34,
			"TTTo2L2Nu":        88.29,
			"ttHTobb":          0.2953,
			"DYJetsToLL":       6077.22,
			"WJetsToLNu":       61526.7,
		},
		Pileup: map[string]*Binned1D{
			"2016": pileupProfile(0.92),
			"2017": pileupProfile(1.04),
			"2018": pileupProfile(1.00),
		},
		EleReco: map[string]*Binned2D{
			"2016": leptonTable(0.985, 0.005),
			"2017": leptonTable(0.982, 0.006),
			"2018": leptonTable(0.984, 0.005),
		},
		EleID: map[string]*Binned2D{
			"2016": leptonTable(0.972, 0.010),
			"2017": leptonTable(0.968, 0.012),
			"2018": leptonTable(0.970, 0.010),
		},
		MuID: map[string]*Binned2D{
			"2016": leptonTable(0.992, 0.004),
			"2017": leptonTable(0.991, 0.004),
			"2018": leptonTable(0.993, 0.003),
		},
		MuIso: map[string]*Binned2D{
			"2016": leptonTable(0.996, 0.002),
			"2017": leptonTable(0.995, 0.003),
			"2018": leptonTable(0.997, 0.002),
		},
		JetPuID: map[string]*Binned2D{
			"2016": puIDTable(0.958, 0.020),
			"2017": puIDTable(0.962, 0.018),
			"2018": puIDTable(0.965, 0.015),
		},
		BTagVariations: map[string][]string{
			"2016": {"lf", "hf", "cferr1", "cferr2"},
			"2017": {"lf", "hf", "hfstats1", "lfstats1", "cferr1", "cferr2"},
			"2018": {"lf", "hf", "hfstats1", "hfstats2", "lfstats1", "lfstats2", "cferr1", "cferr2"},
		},
		BTagStrength: map[string]float64{
			"lf":       0.020,
			"hf":       0.025,
			"hfstats1": 0.010,
			"hfstats2": 0.008,
			"lfstats1": 0.010,
			"lfstats2": 0.008,
			"cferr1":   0.030,
			"cferr2":   0.020,
		},
		Calib: map[string]*BTagCalib{
			"2016": {Offset: 1.012, PerJet: -0.004, PerHT: 0.008, FloorSF: 0.90, CeilSF: 1.10},
			"2017": {Offset: 1.018, PerJet: -0.005, PerHT: 0.010, FloorSF: 0.90, CeilSF: 1.10},
			"2018": {Offset: 1.015, PerJet: -0.004, PerHT: 0.009, FloorSF: 0.90, CeilSF: 1.10},
		},
	}
}

// pileupProfile builds a data/MC ratio profile vs the number of true
// interactions, scaled around the given mean. The up/down bounds follow the
// minimum-bias cross section shift convention.
func pileupProfile(scale float64) *Binned1D {
	edges := make([]float64, 21)
	for i := range edges {
		edges[i] = float64(i * 5)
	}
	shape := []float64{
		0.30, 0.62, 0.95, 1.18, 1.24,
		1.15, 1.02, 0.90, 0.78, 0.66,
		0.55, 0.47, 0.40, 0.35, 0.31,
		0.28, 0.26, 0.24, 0.23, 0.22,
	}
	nom := make([]float64, len(shape))
	up := make([]float64, len(shape))
	down := make([]float64, len(shape))
	for i, s := range shape {
		nom[i] = s * scale
		up[i] = nom[i] * 1.046
		down[i] = nom[i] * 0.954
	}
	return &Binned1D{Edges: edges, Nominal: nom, Up: up, Down: down}
}

// leptonTable builds a flat-in-eta scale factor table with the error growing
// toward low pt and high eta.
func leptonTable(central, baseErr float64) *Binned2D {
	etaEdges := []float64{0, 0.8, 1.44, 1.57, 2.5}
	ptEdges := []float64{10, 20, 35, 50, 100, 500}
	nEta, nPt := len(etaEdges)-1, len(ptEdges)-1
	value := make([][]float64, nEta)
	errs := make([][]float64, nEta)
	for i := 0; i < nEta; i++ {
		value[i] = make([]float64, nPt)
		errs[i] = make([]float64, nPt)
		for j := 0; j < nPt; j++ {
			value[i][j] = central - 0.002*float64(i)
			errs[i][j] = baseErr + 0.004*float64(i) + 0.006/float64(j+1)
		}
	}
	return &Binned2D{EtaEdges: etaEdges, PtEdges: ptEdges, Value: value, Err: errs}
}

// puIDTable builds the pileup jet identification table, defined only for
// pt below 50 where the discriminant is applied.
func puIDTable(central, baseErr float64) *Binned2D {
	etaEdges := []float64{0, 2.5, 2.75, 3.0, 5.0}
	ptEdges := []float64{10, 20, 30, 40, 50}
	nEta, nPt := len(etaEdges)-1, len(ptEdges)-1
	value := make([][]float64, nEta)
	errs := make([][]float64, nEta)
	for i := 0; i < nEta; i++ {
		value[i] = make([]float64, nPt)
		errs[i] = make([]float64, nPt)
		for j := 0; j < nPt; j++ {
			value[i][j] = central + 0.01*float64(j) - 0.015*float64(i)
			errs[i][j] = baseErr + 0.005*float64(i)
		}
	}
	return &Binned2D{EtaEdges: etaEdges, PtEdges: ptEdges, Value: value, Err: errs}
}
