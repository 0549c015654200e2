package weights

import "testing"

func TestValueValidate(t *testing.T) {
	nom := []float64{1, 2, 3}
	up := []float64{1.1, 2.2, 3.3}
	down := []float64{0.9, 1.8, 2.7}

	t.Run("plain value", func(t *testing.T) {
		if err := NewValue("w", nom).Validate(3); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("varied value", func(t *testing.T) {
		v := NewVariedValue("w", nom, up, down)
		if err := v.Validate(3); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !v.HasVariations() {
			t.Error("HasVariations = false")
		}
		if len(v.Variations) != 1 || v.Variations[0] != "w" {
			t.Errorf("single variation should carry the weight name, got %v", v.Variations)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		if err := NewValue("", nom).Validate(3); err == nil {
			t.Error("expected error for empty name")
		}
	})

	t.Run("wrong nominal length", func(t *testing.T) {
		if err := NewValue("w", nom).Validate(4); err == nil {
			t.Error("expected error for size mismatch")
		}
	})

	t.Run("up without down", func(t *testing.T) {
		v := &Value{Name: "w", Nominal: nom, Variations: []string{"w"}, Up: [][]float64{up}}
		if err := v.Validate(3); err == nil {
			t.Error("expected error for missing down columns")
		}
	})

	t.Run("short up column", func(t *testing.T) {
		v := NewVariedValue("w", nom, up[:2], down)
		if err := v.Validate(3); err == nil {
			t.Error("expected error for short up column")
		}
	})

	t.Run("unnamed variation", func(t *testing.T) {
		v := NewMultiVariedValue("w", nom, []string{""}, [][]float64{up}, [][]float64{down})
		if err := v.Validate(3); err == nil {
			t.Error("expected error for unnamed variation")
		}
	})

	t.Run("multi variation", func(t *testing.T) {
		v := NewMultiVariedValue("w", nom,
			[]string{"a", "b"},
			[][]float64{up, up},
			[][]float64{down, down})
		if err := v.Validate(3); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
