package events

import (
	"reflect"
	"testing"
)

func testChunk(t *testing.T) *Chunk {
	t.Helper()
	c := New(4, Metadata{Sample: "ttbar", Year: "2018", IsMC: true})
	if err := c.SetColumn("MET_pt", []float64{10, 20, 30, 40}); err != nil {
		t.Fatalf("SetColumn: %v", err)
	}
	if err := c.SetColumn("MET_pt.jesUp", []float64{11, 22, 33, 44}); err != nil {
		t.Fatalf("SetColumn overlay: %v", err)
	}
	if err := c.SetJagged("Jet_pt", []int{0, 2, 2, 5, 6}, []float64{50, 60, 70, 80, 90, 100}); err != nil {
		t.Fatalf("SetJagged: %v", err)
	}
	return c
}

func TestChunkSetColumnSizeMismatch(t *testing.T) {
	c := New(3, Metadata{})
	if err := c.SetColumn("x", []float64{1, 2}); err == nil {
		t.Fatal("expected error for wrong column length")
	}
}

func TestChunkSetJaggedValidation(t *testing.T) {
	c := New(2, Metadata{})

	t.Run("wrong offset count", func(t *testing.T) {
		if err := c.SetJagged("j", []int{0, 1}, []float64{1}); err == nil {
			t.Fatal("expected error for short offsets")
		}
	})
	t.Run("decreasing offsets", func(t *testing.T) {
		if err := c.SetJagged("j", []int{0, 2, 1}, []float64{1, 2}); err == nil {
			t.Fatal("expected error for decreasing offsets")
		}
	})
	t.Run("last offset mismatch", func(t *testing.T) {
		if err := c.SetJagged("j", []int{0, 1, 3}, []float64{1, 2}); err == nil {
			t.Fatal("expected error for dangling values")
		}
	})
	t.Run("valid", func(t *testing.T) {
		if err := c.SetJagged("j", []int{0, 1, 3}, []float64{1, 2, 3}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestJaggedRowAccess(t *testing.T) {
	c := testChunk(t)
	j, err := c.Jagged("Jet_pt")
	if err != nil {
		t.Fatalf("Jagged: %v", err)
	}
	if j.Rows() != 4 {
		t.Fatalf("expected 4 rows, got %d", j.Rows())
	}
	if got := j.Row(0); !reflect.DeepEqual(got, []float64{50, 60}) {
		t.Errorf("row 0 = %v", got)
	}
	if got := j.Row(1); len(got) != 0 {
		t.Errorf("expected empty row 1, got %v", got)
	}
	if j.Count(2) != 3 {
		t.Errorf("expected count 3 for row 2, got %d", j.Count(2))
	}
}

func TestViewShapeOverlayResolution(t *testing.T) {
	c := testChunk(t)

	t.Run("nominal reads base", func(t *testing.T) {
		col, err := c.Nominal().Column("MET_pt")
		if err != nil {
			t.Fatalf("Column: %v", err)
		}
		if col[0] != 10 {
			t.Errorf("expected base value 10, got %f", col[0])
		}
	})

	t.Run("shape reads overlay when present", func(t *testing.T) {
		col, err := c.WithShape("jesUp").Column("MET_pt")
		if err != nil {
			t.Fatalf("Column: %v", err)
		}
		if col[0] != 11 {
			t.Errorf("expected overlay value 11, got %f", col[0])
		}
	})

	t.Run("shape falls back to base when no overlay", func(t *testing.T) {
		j, err := c.WithShape("jesUp").Jagged("Jet_pt")
		if err != nil {
			t.Fatalf("Jagged: %v", err)
		}
		if j.Count(0) != 2 {
			t.Errorf("expected base jagged column, got count %d", j.Count(0))
		}
	})

	t.Run("nominal name is identity", func(t *testing.T) {
		if got := c.WithShape("nominal").Shape(); got != ShapeNominal {
			t.Errorf("expected nominal view, got %q", got)
		}
	})
}

func TestChunkShapeVariations(t *testing.T) {
	c := testChunk(t)
	if got := c.ShapeVariations(); !reflect.DeepEqual(got, []string{"jesUp"}) {
		t.Errorf("ShapeVariations = %v", got)
	}
}

func TestChunkScalarFieldsExcludesOverlays(t *testing.T) {
	c := testChunk(t)
	if got := c.ScalarFields(); !reflect.DeepEqual(got, []string{"MET_pt"}) {
		t.Errorf("ScalarFields = %v", got)
	}
}

func TestViewCounts(t *testing.T) {
	c := testChunk(t)
	counts, err := c.Nominal().Counts("Jet_pt")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if !reflect.DeepEqual(counts, []float64{2, 0, 3, 1}) {
		t.Errorf("Counts = %v", counts)
	}
}

func TestUnknownColumn(t *testing.T) {
	c := testChunk(t)
	if _, err := c.Column("nope"); err == nil {
		t.Fatal("expected error for unknown scalar column")
	}
	if _, err := c.Jagged("nope"); err == nil {
		t.Fatal("expected error for unknown jagged column")
	}
}
