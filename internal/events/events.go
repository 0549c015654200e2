package events

import (
	"fmt"
	"sort"
	"strings"
)

// Metadata identifies the dataset slice a chunk was read from.
type Metadata struct {
	Sample     string            `json:"sample"`
	Dataset    string            `json:"dataset"`
	Year       string            `json:"year"`
	Era        string            `json:"era"`
	FinalState string            `json:"finalstate"`
	IsMC       bool              `json:"is_mc"`
	XSec       float64           `json:"xsec"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// JaggedF64 is a variable-length-per-event float column in offsets+values
// layout. Offsets has Rows()+1 entries; row i spans Values[Offsets[i]:Offsets[i+1]].
type JaggedF64 struct {
	Offsets []int
	Values  []float64
}

// Rows returns the number of events the column covers.
func (j *JaggedF64) Rows() int {
	if len(j.Offsets) == 0 {
		return 0
	}
	return len(j.Offsets) - 1
}

// Row returns the values for event i. The slice aliases the backing array.
func (j *JaggedF64) Row(i int) []float64 {
	return j.Values[j.Offsets[i]:j.Offsets[i+1]]
}

// Count returns the number of values in event i.
func (j *JaggedF64) Count(i int) int {
	return j.Offsets[i+1] - j.Offsets[i]
}

func (j *JaggedF64) validate(size int) error {
	if len(j.Offsets) != size+1 {
		return fmt.Errorf("jagged column has %d offsets, want %d", len(j.Offsets), size+1)
	}
	if j.Offsets[0] != 0 {
		return fmt.Errorf("jagged column offsets must start at 0, got %d", j.Offsets[0])
	}
	for i := 1; i < len(j.Offsets); i++ {
		if j.Offsets[i] < j.Offsets[i-1] {
			return fmt.Errorf("jagged column offsets decrease at index %d", i)
		}
	}
	if j.Offsets[len(j.Offsets)-1] != len(j.Values) {
		return fmt.Errorf("jagged column last offset %d does not match %d values",
			j.Offsets[len(j.Offsets)-1], len(j.Values))
	}
	return nil
}

// Chunk is a fixed-size columnar batch of events from one dataset slice.
// Sources populate a chunk with SetColumn/SetJagged and hand it to the
// processor, which only reads it. Shape-shifted values are stored as overlay
// columns named "<base>.<shape>" (e.g. "Jet_pt.jesUp") and resolved through a
// View.
type Chunk struct {
	size    int
	meta    Metadata
	scalars map[string][]float64
	jagged  map[string]*JaggedF64
}

// New creates an empty chunk of the given event count.
func New(size int, meta Metadata) *Chunk {
	return &Chunk{
		size:    size,
		meta:    meta,
		scalars: make(map[string][]float64),
		jagged:  make(map[string]*JaggedF64),
	}
}

// Size returns the number of events in the chunk.
func (c *Chunk) Size() int { return c.size }

// Meta returns the chunk metadata.
func (c *Chunk) Meta() Metadata { return c.meta }

// SetColumn installs a scalar column. The slice is kept, not copied.
func (c *Chunk) SetColumn(name string, values []float64) error {
	if len(values) != c.size {
		return fmt.Errorf("column %q has %d values, chunk size is %d", name, len(values), c.size)
	}
	c.scalars[name] = values
	return nil
}

// SetJagged installs a variable-length column.
func (c *Chunk) SetJagged(name string, offsets []int, values []float64) error {
	j := &JaggedF64{Offsets: offsets, Values: values}
	if err := j.validate(c.size); err != nil {
		return fmt.Errorf("column %q: %w", name, err)
	}
	c.jagged[name] = j
	return nil
}

// Has reports whether a scalar or jagged column exists under the given name.
func (c *Chunk) Has(name string) bool {
	if _, ok := c.scalars[name]; ok {
		return true
	}
	_, ok := c.jagged[name]
	return ok
}

// Column returns the scalar column with the given name.
func (c *Chunk) Column(name string) ([]float64, error) {
	v, ok := c.scalars[name]
	if !ok {
		return nil, fmt.Errorf("unknown scalar column %q", name)
	}
	return v, nil
}

// Jagged returns the variable-length column with the given name.
func (c *Chunk) Jagged(name string) (*JaggedF64, error) {
	j, ok := c.jagged[name]
	if !ok {
		return nil, fmt.Errorf("unknown jagged column %q", name)
	}
	return j, nil
}

// ScalarFields returns the sorted names of all base scalar columns,
// overlay columns excluded.
func (c *Chunk) ScalarFields() []string {
	names := make([]string, 0, len(c.scalars))
	for name := range c.scalars {
		if !strings.Contains(name, ".") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ShapeVariations returns the sorted overlay suffixes present in the chunk,
// e.g. ["jesDown" "jesUp"] when any column carries those overlays.
func (c *Chunk) ShapeVariations() []string {
	seen := make(map[string]bool)
	for name := range c.scalars {
		if i := strings.IndexByte(name, '.'); i >= 0 {
			seen[name[i+1:]] = true
		}
	}
	for name := range c.jagged {
		if i := strings.IndexByte(name, '.'); i >= 0 {
			seen[name[i+1:]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Nominal returns the identity view of the chunk.
func (c *Chunk) Nominal() View {
	return View{chunk: c}
}

// WithShape returns a view that resolves column X through overlay "X.<shape>"
// when present, falling back to the base column. "nominal" and the empty
// string return the identity view.
func (c *Chunk) WithShape(shape string) View {
	if shape == "" || shape == ShapeNominal {
		return View{chunk: c}
	}
	return View{chunk: c, shape: shape}
}

// ShapeNominal names the identity shape variation.
const ShapeNominal = "nominal"

// View reads a chunk under one shape variation.
type View struct {
	chunk *Chunk
	shape string
}

// Size returns the event count of the underlying chunk.
func (v View) Size() int { return v.chunk.Size() }

// Meta returns the metadata of the underlying chunk.
func (v View) Meta() Metadata { return v.chunk.Meta() }

// Shape returns the shape variation name, "nominal" for the identity view.
func (v View) Shape() string {
	if v.shape == "" {
		return ShapeNominal
	}
	return v.shape
}

func (v View) resolve(name string) string {
	if v.shape == "" {
		return name
	}
	overlaid := name + "." + v.shape
	if v.chunk.Has(overlaid) {
		return overlaid
	}
	return name
}

// Column returns the scalar column, shape overlay applied when one exists.
func (v View) Column(name string) ([]float64, error) {
	return v.chunk.Column(v.resolve(name))
}

// Jagged returns the variable-length column, shape overlay applied when one
// exists.
func (v View) Jagged(name string) (*JaggedF64, error) {
	return v.chunk.Jagged(v.resolve(name))
}

// Counts returns the per-event value count of a jagged column as floats.
func (v View) Counts(name string) ([]float64, error) {
	j, err := v.Jagged(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, j.Rows())
	for i := range out {
		out[i] = float64(j.Count(i))
	}
	return out, nil
}

// Has reports whether the view can resolve the given column.
func (v View) Has(name string) bool {
	return v.chunk.Has(v.resolve(name))
}
