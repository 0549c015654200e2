package executor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/config"
	"github.com/espresso-hep/espresso/internal/corrections"
	"github.com/espresso-hep/espresso/internal/store"
	"github.com/espresso-hep/espresso/internal/weights"
)

type memStore struct {
	mu     sync.Mutex
	runs   map[uuid.UUID]*store.Run
	chunks map[uuid.UUID][]*store.RunChunk
}

func newMemStore() *memStore {
	return &memStore{
		runs:   make(map[uuid.UUID]*store.Run),
		chunks: make(map[uuid.UUID][]*store.RunChunk),
	}
}

func (m *memStore) CreateRun(_ context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = uuid.New()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetRun(_ context.Context, id uuid.UUID) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRuns(_ context.Context, _ store.RunFilter) ([]*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Run
	for _, r := range m.runs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateRun(_ context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetQueuedRuns(_ context.Context) ([]*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Run
	for _, r := range m.runs {
		if r.Status == store.StatusQueued {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateRunChunks(_ context.Context, chunks []*store.RunChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		c.ID = uuid.New()
		cp := *c
		m.chunks[c.RunID] = append(m.chunks[c.RunID], &cp)
	}
	return nil
}

func (m *memStore) UpdateRunChunk(_ context.Context, chunk *store.RunChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.chunks[chunk.RunID] {
		if c.ID == chunk.ID {
			cp := *chunk
			m.chunks[chunk.RunID][i] = &cp
		}
	}
	return nil
}

func (m *memStore) GetRunChunks(_ context.Context, runID uuid.UUID) ([]*store.RunChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.RunChunk
	for _, c := range m.chunks[runID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) GetStats(_ context.Context) (*store.RunStats, error) {
	return &store.RunStats{}, nil
}

func (m *memStore) Close() error { return nil }

const testRunConfig = `
datasets:
  inline:
    - name: ttHTobb_2018
      sample: ttHTobb
      year: "2018"
      is_mc: true
      xsec: 0.2953
      events: 400
categories:
  baseline: []
weights:
  common:
    inclusive: [genWeight, lumi, XS]
run:
  chunk_size: 150
`

func testExecutor(t *testing.T, s store.Store) *Executor {
	t.Helper()
	tables := corrections.Defaults()
	reg := weights.NewRegistry()
	if err := weights.RegisterBuiltins(reg, tables); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Output:   config.OutputConfig{Dir: t.TempDir(), ColumnMaxSizeMB: 1},
		Executor: config.ExecutorConfig{PollIntervalMs: 10, Workers: 2, Retries: 1, ChunkSize: 100000},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s, nil, nil, reg, tables, cfg, logger)
}

func TestExecuteRunToCompletion(t *testing.T) {
	s := newMemStore()
	e := testExecutor(t, s)

	run := &store.Run{Name: "synthetic run", Config: testRunConfig, Status: store.StatusQueued}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	e.processQueuedRuns(context.Background())
	e.wg.Wait()

	got, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("run status = %s (error: %s)", got.Status, got.Error)
	}
	if got.Processed != 400 {
		t.Errorf("processed = %d, want 400", got.Processed)
	}
	if got.Selected == 0 {
		t.Error("no events selected")
	}

	chunks, err := s.GetRunChunks(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	// 400 events at chunk_size 150 -> 3 chunks.
	if len(chunks) != 3 {
		t.Fatalf("got %d chunk rows, want 3", len(chunks))
	}
	for _, c := range chunks {
		if c.Status != store.ChunkCompleted {
			t.Errorf("chunk %d status = %s", c.Index, c.Status)
		}
	}

	for _, name := range []string{"config.json", "histograms.json", "report.json"} {
		path := filepath.Join(got.OutputDir, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func TestExecuteRejectsBrokenConfig(t *testing.T) {
	s := newMemStore()
	e := testExecutor(t, s)

	bad := `
datasets:
  inline:
    - name: x_2018
      sample: x
      year: "2018"
      is_mc: true
      events: 10
weights:
  common:
    inclusive: [sf_does_not_exist]
`
	run := &store.Run{Name: "broken", Config: bad, Status: store.StatusQueued}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	e.processQueuedRuns(context.Background())
	e.wg.Wait()

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("run status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("expected error message on failed run")
	}
}

func TestExecuteCatalogRequired(t *testing.T) {
	s := newMemStore()
	e := testExecutor(t, s)

	cfgYAML := `
datasets:
  catalog: [some_remote_dataset]
weights:
  common:
    inclusive: [genWeight]
`
	run := &store.Run{Name: "catalog", Config: cfgYAML, Status: store.StatusQueued}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	e.processQueuedRuns(context.Background())
	e.wg.Wait()

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("run status = %s, want failed without catalog client", got.Status)
	}
}

func TestPlanChunks(t *testing.T) {
	runID := uuid.New()
	datasets := []analysis.DatasetDef{
		{Name: "a_2018", Sample: "a", Events: 250},
		{Name: "b_2018", Sample: "b", Events: 0},
	}
	rows := planChunks(runID, datasets, analysis.RunOptions{ChunkSize: 100})
	// 250/100 -> 3 rows, unknown-count dataset -> 1 open row.
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	if rows[2].Start != 200 || rows[2].Stop != 250 {
		t.Errorf("last bounded row = [%d,%d)", rows[2].Start, rows[2].Stop)
	}
	if rows[3].Dataset != "b_2018" || rows[3].Stop != 0 {
		t.Errorf("open row wrong: %+v", rows[3])
	}

	rows = planChunks(runID, datasets[:1], analysis.RunOptions{ChunkSize: 100, Limit: 120})
	if len(rows) != 2 {
		t.Fatalf("limit: got %d rows, want 2", len(rows))
	}
	if rows[1].Stop != 120 {
		t.Errorf("limit not applied: stop = %d", rows[1].Stop)
	}
}
