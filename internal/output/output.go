package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/espresso-hep/espresso/internal/histogram"
	"github.com/espresso-hep/espresso/internal/processor"
)

// Writer owns the output directory of one run: the resolved configuration
// dump, the histogram snapshot file and the rotated column export stream.
type Writer struct {
	dir string

	mu      sync.Mutex
	columns *lumberjack.Logger
}

// NewWriter creates <baseDir>/<runID>/ and a writer over it. maxColumnMB
// caps a single columns.jsonl file before rotation; zero uses 256 MB.
func NewWriter(baseDir, runID string, maxColumnMB int) (*Writer, error) {
	dir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	if maxColumnMB <= 0 {
		maxColumnMB = 256
	}
	return &Writer{
		dir: dir,
		columns: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "columns.jsonl"),
			MaxSize:    maxColumnMB,
			MaxBackups: 50,
			Compress:   true,
		},
	}, nil
}

// Dir returns the run's output directory.
func (w *Writer) Dir() string { return w.dir }

// WriteConfig dumps the resolved configuration document as config.json.
func (w *Writer) WriteConfig(doc interface{}) error {
	return w.writeJSON("config.json", doc)
}

// WriteHistograms dumps every histogram snapshot as histograms.json.
func (w *Writer) WriteHistograms(snaps []histogram.Snapshot) error {
	return w.writeJSON("histograms.json", snaps)
}

// WriteReport dumps the run summary as report.json.
func (w *Writer) WriteReport(doc interface{}) error {
	return w.writeJSON("report.json", doc)
}

func (w *Writer) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// columnRow is one exported event in the columns stream.
type columnRow struct {
	Sample    string             `json:"sample"`
	Subsample string             `json:"subsample"`
	Category  string             `json:"category"`
	Values    map[string]float64 `json:"values"`
}

// WriteColumns appends one event row per selected event of the block to the
// rotated columns.jsonl stream. Safe for concurrent chunk writers.
func (w *Writer) WriteColumns(block processor.ColumnBlock) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < block.Size; i++ {
		row := columnRow{
			Sample:    block.Sample,
			Subsample: block.Subsample,
			Category:  block.Category,
			Values:    make(map[string]float64, len(block.Columns)),
		}
		for name, col := range block.Columns {
			row.Values[name] = col[i]
		}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encoding column row: %w", err)
		}
		if _, err := w.columns.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("writing column row: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the column stream.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.columns.Close()
}
