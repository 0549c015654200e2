package corrections

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/espresso-hep/espresso/internal/events"
)

func TestBinIndexClamping(t *testing.T) {
	edges := []float64{0, 10, 20, 30}
	cases := []struct {
		x    float64
		want int
	}{
		{-5, 0}, {0, 0}, {9.9, 0}, {10, 1}, {25, 2}, {30, 2}, {100, 2},
	}
	for _, c := range cases {
		if got := binIndex(edges, c.x); got != c.want {
			t.Errorf("binIndex(%v) = %d, want %d", c.x, got, c.want)
		}
	}
}

func TestBinned1DAt(t *testing.T) {
	b := &Binned1D{
		Edges:   []float64{0, 1, 2},
		Nominal: []float64{10, 20},
		Up:      []float64{11, 22},
		Down:    []float64{9, 18},
	}
	nom, up, down := b.At(1.5)
	if nom != 20 || up != 22 || down != 18 {
		t.Errorf("At(1.5) = %v %v %v", nom, up, down)
	}

	// Missing bounds fall back to nominal.
	b2 := &Binned1D{Edges: []float64{0, 1}, Nominal: []float64{5}}
	nom, up, down = b2.At(0.5)
	if nom != 5 || up != 5 || down != 5 {
		t.Errorf("At without bounds = %v %v %v", nom, up, down)
	}
}

func TestBinned2DAtUsesAbsEta(t *testing.T) {
	b := &Binned2D{
		EtaEdges: []float64{0, 1, 2},
		PtEdges:  []float64{0, 50},
		Value:    [][]float64{{0.9}, {0.8}},
		Err:      [][]float64{{0.01}, {0.02}},
	}
	nom, up, down := b.At(-1.5, 30)
	if nom != 0.8 {
		t.Errorf("expected |eta| lookup 0.8, got %f", nom)
	}
	if math.Abs(up-0.82) > 1e-12 || math.Abs(down-0.78) > 1e-12 {
		t.Errorf("bounds = %v %v", up, down)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("default tables invalid: %v", err)
	}
}

func chunkWithJets(t *testing.T, pts, etas, flavs []float64) *events.Chunk {
	t.Helper()
	c := events.New(1, events.Metadata{Sample: "ttbar", Year: "2018", IsMC: true})
	offsets := []int{0, len(pts)}
	if err := c.SetJagged("Jet_pt", offsets, pts); err != nil {
		t.Fatal(err)
	}
	if err := c.SetJagged("Jet_eta", offsets, etas); err != nil {
		t.Fatal(err)
	}
	if err := c.SetJagged("Jet_hadronFlavour", offsets, flavs); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestPileupWeight(t *testing.T) {
	tables := Defaults()
	c := events.New(2, events.Metadata{Year: "2018"})
	if err := c.SetColumn("Pileup_nTrueInt", []float64{17, 200}); err != nil {
		t.Fatal(err)
	}
	nom, up, down, err := tables.PileupWeight(c.Nominal(), "2018")
	if err != nil {
		t.Fatalf("PileupWeight: %v", err)
	}
	if len(nom) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(nom))
	}
	if !(up[0] > nom[0] && down[0] < nom[0]) {
		t.Errorf("bounds should bracket nominal: %v < %v < %v", down[0], nom[0], up[0])
	}
	// Overflow clamps into the last bin, not a crash or zero.
	if nom[1] <= 0 {
		t.Errorf("overflow lookup should clamp, got %f", nom[1])
	}

	if _, _, _, err := tables.PileupWeight(c.Nominal(), "1999"); err == nil {
		t.Fatal("expected error for unknown year")
	}
}

func TestLeptonSFProductAndEmptyCollection(t *testing.T) {
	tables := Defaults()
	c := events.New(2, events.Metadata{Year: "2018"})
	// Event 0 has two electrons, event 1 has none.
	if err := c.SetJagged("Electron_pt", []int{0, 2, 2}, []float64{40, 25}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetJagged("Electron_eta", []int{0, 2, 2}, []float64{0.5, -1.2}); err != nil {
		t.Fatal(err)
	}
	nom, up, down, err := tables.ElectronIDSF(c.Nominal(), "2018")
	if err != nil {
		t.Fatalf("ElectronIDSF: %v", err)
	}
	if nom[1] != 1.0 || up[1] != 1.0 || down[1] != 1.0 {
		t.Errorf("empty collection should give unit weight, got %v %v %v", nom[1], up[1], down[1])
	}
	if !(nom[0] < 1.0 && nom[0] > 0.85) {
		t.Errorf("two-electron product out of range: %f", nom[0])
	}
	if !(up[0] > nom[0] && down[0] < nom[0]) {
		t.Errorf("bounds should bracket nominal")
	}
}

func TestJetPuIdSkipsHighPt(t *testing.T) {
	tables := Defaults()
	c := chunkWithJets(t,
		[]float64{30, 120},
		[]float64{1.0, 1.0},
		[]float64{0, 5},
	)
	nom, _, _, err := tables.JetPuIdSF(c.Nominal(), "2018")
	if err != nil {
		t.Fatalf("JetPuIdSF: %v", err)
	}
	// Only the 30 GeV jet contributes.
	wantNom, _, _ := tables.JetPuID["2018"].At(1.0, 30)
	if math.Abs(nom[0]-wantNom) > 1e-12 {
		t.Errorf("expected single-jet SF %f, got %f", wantNom, nom[0])
	}
}

func TestBTagSFVariationsShiftOnlyTheirFlavour(t *testing.T) {
	tables := Defaults()
	// One b jet and one light jet.
	c := chunkWithJets(t,
		[]float64{60, 45},
		[]float64{0.3, 1.1},
		[]float64{5, 0},
	)
	res, err := tables.BTagSF(c.Nominal(), "2018")
	if err != nil {
		t.Fatalf("BTagSF: %v", err)
	}
	if len(res.Variations) != len(tables.BTagVariations["2018"]) {
		t.Fatalf("expected %d variations, got %d", len(tables.BTagVariations["2018"]), len(res.Variations))
	}

	central := res.Central[0]
	idx := func(name string) int {
		for i, v := range res.Variations {
			if v == name {
				return i
			}
		}
		t.Fatalf("variation %q not found", name)
		return -1
	}

	hf := idx("hf")
	s := tables.BTagStrength["hf"]
	bSF := btagCentralSF(5, 60)
	lightSF := btagCentralSF(0, 45)
	wantUp := bSF * (1 + s) * lightSF
	if math.Abs(res.Up[hf][0]-wantUp) > 1e-12 {
		t.Errorf("hf up = %f, want %f", res.Up[hf][0], wantUp)
	}

	// cferr must not move an event with no c jets.
	cf := idx("cferr1")
	if math.Abs(res.Up[cf][0]-central) > 1e-12 || math.Abs(res.Down[cf][0]-central) > 1e-12 {
		t.Errorf("cferr1 moved an event without charm: %f vs %f", res.Up[cf][0], central)
	}
}

func TestBTagCalibClamped(t *testing.T) {
	tables := Defaults()
	c := chunkWithJets(t,
		[]float64{500, 500, 500, 500, 500, 500, 500, 500, 500, 500},
		[]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		[]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	)
	sf, err := tables.BTagCalibSF(c.Nominal(), "2018")
	if err != nil {
		t.Fatalf("BTagCalibSF: %v", err)
	}
	calib := tables.Calib["2018"]
	if sf[0] != calib.CeilSF {
		t.Errorf("expected clamp to %f, got %f", calib.CeilSF, sf[0])
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	doc := `{"lumi": {"2018": 12345.0, "2022": 35000.0}}`
	if err := os.WriteFile(filepath.Join(dir, "corrections.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	tables, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l, _ := tables.LumiFor("2018"); l != 12345.0 {
		t.Errorf("expected overlaid lumi 12345, got %f", l)
	}
	if l, _ := tables.LumiFor("2022"); l != 35000.0 {
		t.Errorf("expected new year lumi 35000, got %f", l)
	}
	// Untouched sections keep their defaults.
	if _, err := tables.LumiFor("2016"); err != nil {
		t.Errorf("expected default 2016 lumi to survive overlay: %v", err)
	}
	if tables.Pileup["2018"] == nil {
		t.Error("expected default pileup profile to survive overlay")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing corrections.json")
	}
}
