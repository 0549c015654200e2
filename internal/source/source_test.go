package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/events"
)

func readAll(t *testing.T, r Reader, chunkSize int) []*events.Chunk {
	t.Helper()
	var out []*events.Chunk
	for {
		c, err := r.Next(chunkSize)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, c)
	}
}

func TestSyntheticChunking(t *testing.T) {
	ds := analysis.DatasetDef{Name: "ttbar_2018", Sample: "ttbar", Year: "2018", IsMC: true, Events: 250}
	r, err := Synthetic{}.Open(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}
	chunks := readAll(t, r, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		total += c.Size()
		if c.Meta().Sample != "ttbar" || c.Meta().Year != "2018" {
			t.Errorf("chunk metadata wrong: %+v", c.Meta())
		}
	}
	if total != 250 {
		t.Errorf("got %d events, want 250", total)
	}
	if chunks[2].Size() != 50 {
		t.Errorf("last chunk has %d events, want 50", chunks[2].Size())
	}
}

func TestSyntheticDeterminism(t *testing.T) {
	ds := analysis.DatasetDef{Name: "ttbar_2018", Sample: "ttbar", Year: "2018", IsMC: true, Events: 120}
	open := func() []*events.Chunk {
		r, err := Synthetic{}.Open(context.Background(), ds)
		if err != nil {
			t.Fatal(err)
		}
		return readAll(t, r, 60)
	}
	a, b := open(), open()
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		ca, _ := a[i].Column("MET_pt")
		cb, _ := b[i].Column("MET_pt")
		for j := range ca {
			if ca[j] != cb[j] {
				t.Fatalf("chunk %d event %d differs between reads", i, j)
			}
		}
	}
}

func TestSyntheticShapeOverlays(t *testing.T) {
	ds := analysis.DatasetDef{Name: "ttbar_2018", Sample: "ttbar", Year: "2018", IsMC: true, Events: 50}
	r, _ := Synthetic{}.Open(context.Background(), ds)
	chunk := readAll(t, r, 50)[0]

	shapes := chunk.ShapeVariations()
	if len(shapes) != 2 || shapes[0] != "jesDown" || shapes[1] != "jesUp" {
		t.Fatalf("shape variations = %v, want [jesDown jesUp]", shapes)
	}
	nom, err := chunk.Nominal().Jagged("Jet_pt")
	if err != nil {
		t.Fatal(err)
	}
	up, err := chunk.WithShape("jesUp").Jagged("Jet_pt")
	if err != nil {
		t.Fatal(err)
	}
	for i := range nom.Values {
		if up.Values[i] <= nom.Values[i] {
			t.Fatalf("jesUp jet pt not shifted up at value %d", i)
		}
	}
}

func TestJSONLReader(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "a.jsonl")
	f2 := filepath.Join(dir, "b.jsonl")
	writeFile(t, f1, `{"genWeight": 1.0, "MET_pt": 31.5, "Jet_pt": [40.0, 35.0], "Jet_pt.jesUp": [41.2, 36.1]}
{"genWeight": -1.0, "MET_pt": 12.0, "Jet_pt": []}
`)
	writeFile(t, f2, `{"genWeight": 1.0, "MET_pt": 55.0, "Jet_pt": [80.0]}
`)

	ds := analysis.DatasetDef{Name: "data_2018", Sample: "DATA", Year: "2018", Files: []string{f1, f2}}
	src, err := For(ds)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(JSONL); !ok {
		t.Fatalf("For picked %T, want JSONL", src)
	}
	r, err := src.Open(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	chunks := readAll(t, r, 10)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Size() != 3 {
		t.Fatalf("got %d events across files, want 3", c.Size())
	}
	met, err := c.Column("MET_pt")
	if err != nil {
		t.Fatal(err)
	}
	if met[0] != 31.5 || met[2] != 55.0 {
		t.Errorf("MET_pt = %v", met)
	}
	jets, err := c.Jagged("Jet_pt")
	if err != nil {
		t.Fatal(err)
	}
	if jets.Count(0) != 2 || jets.Count(1) != 0 || jets.Count(2) != 1 {
		t.Errorf("jet counts wrong: %v", jets.Offsets)
	}
	// The overlay column only exists for events that carried it; missing
	// rows are empty, and the view falls back per resolved column name.
	if got := c.ShapeVariations(); len(got) != 1 || got[0] != "jesUp" {
		t.Errorf("shape variations = %v, want [jesUp]", got)
	}
}

func TestJSONLChunkBoundaries(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "events.jsonl")
	content := ""
	for i := 0; i < 5; i++ {
		content += `{"MET_pt": 1.0}` + "\n"
	}
	writeFile(t, f, content)

	ds := analysis.DatasetDef{Name: "d", Sample: "s", Year: "2018", Files: []string{f}}
	r, err := JSONL{}.Open(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	chunks := readAll(t, r, 2)
	sizes := []int{}
	for _, c := range chunks {
		sizes = append(sizes, c.Size())
	}
	want := []int{2, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("chunk sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("chunk sizes = %v, want %v", sizes, want)
		}
	}
}

func TestForDefaultsToSynthetic(t *testing.T) {
	src, err := For(analysis.DatasetDef{Name: "d", Sample: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(Synthetic); !ok {
		t.Fatalf("For picked %T, want Synthetic", src)
	}
	if _, err := For(analysis.DatasetDef{Name: "d", Sample: "s", Kind: "root"}); err == nil {
		t.Fatal("unknown kind should error")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
