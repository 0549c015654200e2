package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/events"
)

// JSONL reads newline-delimited JSON event files. Each line is one event:
// scalar fields are numbers, jagged fields are number arrays. Fields named
// "X.<shape>" become shape overlay columns.
type JSONL struct{}

// Open opens the dataset's file list for sequential chunked reading.
func (JSONL) Open(ctx context.Context, ds analysis.DatasetDef) (Reader, error) {
	if len(ds.Files) == 0 {
		return nil, fmt.Errorf("dataset %q: jsonl source needs files", ds.Name)
	}
	return &jsonlReader{ctx: ctx, meta: metadataFor(ds), files: ds.Files}, nil
}

type jsonlReader struct {
	ctx   context.Context
	meta  events.Metadata
	files []string

	file    *os.File
	scanner *bufio.Scanner
	line    int
}

type rawEvent map[string]json.RawMessage

func (r *jsonlReader) Next(maxEvents int) (*events.Chunk, error) {
	if maxEvents <= 0 {
		maxEvents = 100000
	}
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}

	var raws []rawEvent
	for len(raws) < maxEvents {
		ev, err := r.nextEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		raws = append(raws, ev)
	}
	if len(raws) == 0 {
		return nil, io.EOF
	}
	return buildChunk(r.meta, raws)
}

func (r *jsonlReader) nextEvent() (rawEvent, error) {
	for {
		if r.scanner == nil {
			if len(r.files) == 0 {
				return nil, io.EOF
			}
			f, err := os.Open(r.files[0])
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", r.files[0], err)
			}
			r.file = f
			r.scanner = bufio.NewScanner(f)
			r.scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
			r.line = 0
			r.files = r.files[1:]
		}
		for r.scanner.Scan() {
			r.line++
			line := r.scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev rawEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", r.file.Name(), r.line, err)
			}
			return ev, nil
		}
		if err := r.scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", r.file.Name(), err)
		}
		_ = r.file.Close()
		r.file, r.scanner = nil, nil
	}
}

// buildChunk columnarizes decoded events. The column set is the union over
// the chunk: an event missing a scalar field contributes 0, a missing jagged
// field contributes an empty row.
func buildChunk(meta events.Metadata, raws []rawEvent) (*events.Chunk, error) {
	scalars := make(map[string][]float64)
	jagged := make(map[string]*events.JaggedF64)

	isJagged := make(map[string]bool)
	for _, ev := range raws {
		for name, raw := range ev {
			if len(raw) > 0 && raw[0] == '[' {
				isJagged[name] = true
			}
		}
	}

	n := len(raws)
	for i, ev := range raws {
		for name, raw := range ev {
			if isJagged[name] {
				continue
			}
			col, ok := scalars[name]
			if !ok {
				col = make([]float64, n)
				scalars[name] = col
			}
			var x float64
			if err := json.Unmarshal(raw, &x); err != nil {
				return nil, fmt.Errorf("event %d field %q: %w", i, name, err)
			}
			col[i] = x
		}
	}
	for name := range isJagged {
		j := &events.JaggedF64{Offsets: make([]int, 0, n+1)}
		j.Offsets = append(j.Offsets, 0)
		for i, ev := range raws {
			if raw, ok := ev[name]; ok {
				var vals []float64
				if err := json.Unmarshal(raw, &vals); err != nil {
					return nil, fmt.Errorf("event %d field %q: %w", i, name, err)
				}
				j.Values = append(j.Values, vals...)
			}
			j.Offsets = append(j.Offsets, len(j.Values))
		}
		jagged[name] = j
	}

	chunk := events.New(n, meta)
	for name, col := range scalars {
		if err := chunk.SetColumn(name, col); err != nil {
			return nil, err
		}
	}
	for name, j := range jagged {
		if err := chunk.SetJagged(name, j.Offsets, j.Values); err != nil {
			return nil, err
		}
	}
	return chunk, nil
}

func (r *jsonlReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
