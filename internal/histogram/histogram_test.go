package histogram

import (
	"math"
	"testing"

	"github.com/espresso-hep/espresso/internal/events"
)

func TestAxisFindBin(t *testing.T) {
	axis, err := NewAxis("x", "", 10, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		x    float64
		want int
	}{
		{-1, -1},   // underflow
		{0, 0},     // first edge
		{9.99, 0},  // inside first bin
		{50, 5},    // middle
		{99.99, 9}, // last bin
		{100, 10},  // overflow (hi edge excluded)
		{1e9, 10},  // far overflow
	}
	for _, c := range cases {
		if got := axis.FindBin(c.x); got != c.want {
			t.Errorf("FindBin(%v) = %d, want %d", c.x, got, c.want)
		}
	}
}

func TestVariableAxisEdges(t *testing.T) {
	axis, err := NewVariableAxis("pt", "", []float64{0, 30, 60, 120, 400})
	if err != nil {
		t.Fatal(err)
	}
	if axis.Bins() != 4 {
		t.Fatalf("Bins = %d, want 4", axis.Bins())
	}
	if got := axis.FindBin(100); got != 2 {
		t.Errorf("FindBin(100) = %d, want 2", got)
	}

	if _, err := NewVariableAxis("bad", "", []float64{0, 10, 10}); err == nil {
		t.Error("non-increasing edges should be rejected")
	}
	if _, err := NewAxis("bad", "", 0, 0, 1); err == nil {
		t.Error("zero bins should be rejected")
	}
}

func TestHist1DFillAndIntegral(t *testing.T) {
	axis, _ := NewAxis("x", "", 4, 0, 4)
	h := NewHist1D(axis)
	h.Fill(0.5, 2.0)
	h.Fill(3.5, 1.0)
	h.Fill(-1, 0.5)  // underflow
	h.Fill(9, 0.25)  // overflow

	if h.Entries != 4 {
		t.Errorf("Entries = %d, want 4", h.Entries)
	}
	if got := h.Integral(); math.Abs(got-3.75) > 1e-12 {
		t.Errorf("Integral = %v, want 3.75", got)
	}
	if h.SumW[0] != 0.5 {
		t.Errorf("underflow = %v, want 0.5", h.SumW[0])
	}
	if h.SumW[len(h.SumW)-1] != 0.25 {
		t.Errorf("overflow = %v, want 0.25", h.SumW[len(h.SumW)-1])
	}
	// SumW2 of the 2.0-weight entry
	if h.SumW2[1] != 4.0 {
		t.Errorf("SumW2[1] = %v, want 4", h.SumW2[1])
	}
}

func TestHist1DFillMasked(t *testing.T) {
	axis, _ := NewAxis("x", "", 4, 0, 4)
	h := NewHist1D(axis)
	values := []float64{0.5, 1.5, 2.5}
	weights := []float64{1, 1, 1}
	mask := []bool{true, false, true}
	if err := h.FillMasked(values, weights, mask); err != nil {
		t.Fatal(err)
	}
	if h.Entries != 2 {
		t.Errorf("Entries = %d, want 2", h.Entries)
	}
	if h.SumW[2] != 0 {
		t.Error("masked-out entry was filled")
	}

	if err := h.FillMasked(values, weights[:2], mask); err == nil {
		t.Error("mismatched lengths should be rejected")
	}
}

func TestHist1DMerge(t *testing.T) {
	axis, _ := NewAxis("x", "", 4, 0, 4)
	a := NewHist1D(axis)
	b := NewHist1D(axis)
	a.Fill(1, 2.0)
	b.Fill(1, 3.0)
	if err := a.Merge(b); err != nil {
		t.Fatal(err)
	}
	if a.SumW[2] != 5.0 {
		t.Errorf("merged SumW = %v, want 5", a.SumW[2])
	}
	if a.Entries != 2 {
		t.Errorf("merged Entries = %d, want 2", a.Entries)
	}

	other, _ := NewAxis("x", "", 8, 0, 4)
	c := NewHist1D(other)
	if err := a.Merge(c); err == nil {
		t.Error("incompatible binnings should be rejected")
	}
}

func testView(t *testing.T) events.View {
	t.Helper()
	chunk := events.New(3, events.Metadata{Sample: "ttbar"})
	if err := chunk.SetColumn("MET_pt", []float64{10, 50, 150}); err != nil {
		t.Fatal(err)
	}
	// Jagged jet pt: [40, 30], [], [100, 60, 20]
	if err := chunk.SetJagged("Jet_pt", []int{0, 2, 2, 5}, []float64{40, 30, 100, 60, 20}); err != nil {
		t.Fatal(err)
	}
	return chunk.Nominal()
}

func TestVariableSpecObserve(t *testing.T) {
	view := testView(t)

	cases := []struct {
		spec VariableSpec
		want []float64
	}{
		{VariableSpec{Name: "met_pt", Column: "MET_pt"}, []float64{10, 50, 150}},
		{VariableSpec{Name: "nJet", Column: "Jet_pt", Reduce: "count"}, []float64{2, 0, 3}},
		{VariableSpec{Name: "lead", Column: "Jet_pt", Reduce: "leading"}, []float64{40, 0, 100}},
		{VariableSpec{Name: "ht", Column: "Jet_pt", Reduce: "sum"}, []float64{70, 0, 180}},
	}
	for _, c := range cases {
		t.Run(c.spec.Name, func(t *testing.T) {
			got, err := c.spec.Observe(view)
			if err != nil {
				t.Fatal(err)
			}
			for i := range c.want {
				if got[i] != c.want[i] {
					t.Errorf("event %d: got %v, want %v", i, got[i], c.want[i])
				}
			}
		})
	}

	bad := VariableSpec{Name: "x", Column: "Jet_pt", Reduce: "median"}
	if _, err := bad.Observe(view); err == nil {
		t.Error("unknown reduce should be rejected")
	}
}

func TestManagerFillMergeSnapshots(t *testing.T) {
	specs := []VariableSpec{{Name: "met_pt", Column: "MET_pt", Bins: 4, Lo: 0, Hi: 200}}
	view := testView(t)
	weights := []float64{1, 2, 3}

	a := NewManager("ttbar", specs)
	if err := a.Fill(view, "SR", "nominal", nil, weights); err != nil {
		t.Fatal(err)
	}
	if err := a.Fill(view, "SR", "pileupUp", nil, weights); err != nil {
		t.Fatal(err)
	}

	b := NewManager("ttbar", specs)
	if err := b.Fill(view, "SR", "nominal", []bool{true, false, false}, weights); err != nil {
		t.Fatal(err)
	}
	if err := a.Merge(b); err != nil {
		t.Fatal(err)
	}

	h := a.Lookup("met_pt", "SR", "nominal")
	if h == nil {
		t.Fatal("nominal histogram missing")
	}
	// 1+2+3 from the full fill plus 1 from the masked one.
	if got := h.Integral(); got != 7 {
		t.Errorf("merged integral = %v, want 7", got)
	}

	snaps := a.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	// Deterministic order: nominal before pileupUp.
	if snaps[0].Variation != "nominal" || snaps[1].Variation != "pileupUp" {
		t.Errorf("snapshot order: %s, %s", snaps[0].Variation, snaps[1].Variation)
	}
	if snaps[0].Sample != "ttbar" {
		t.Errorf("snapshot sample = %s", snaps[0].Sample)
	}

	wrong := NewManager("other", specs)
	if err := a.Merge(wrong); err == nil {
		t.Error("cross-sample merge should be rejected")
	}
}
