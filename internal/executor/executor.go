package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/catalog"
	"github.com/espresso-hep/espresso/internal/config"
	"github.com/espresso-hep/espresso/internal/corrections"
	"github.com/espresso-hep/espresso/internal/eventbus"
	"github.com/espresso-hep/espresso/internal/histogram"
	"github.com/espresso-hep/espresso/internal/metrics"
	"github.com/espresso-hep/espresso/internal/output"
	"github.com/espresso-hep/espresso/internal/processor"
	"github.com/espresso-hep/espresso/internal/source"
	"github.com/espresso-hep/espresso/internal/store"
	"github.com/espresso-hep/espresso/internal/weights"
)

// Executor polls for queued runs and drives each one end to end: catalog
// resolution, configuration resolution, chunked processing and output
// writing. One executor serves the whole service.
type Executor struct {
	store   store.Store
	bus     eventbus.Bus
	catalog catalog.Client
	reg     *weights.Registry
	tables  *corrections.Tables
	cfg     *config.Config
	logger  *slog.Logger

	activeMu sync.Mutex
	active   map[uuid.UUID]context.CancelFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, bus eventbus.Bus, cat catalog.Client, reg *weights.Registry, tables *corrections.Tables, cfg *config.Config, logger *slog.Logger) *Executor {
	return &Executor{
		store:   s,
		bus:     bus,
		catalog: cat,
		reg:     reg,
		tables:  tables,
		cfg:     cfg,
		logger:  logger,
		active:  make(map[uuid.UUID]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
}

func (e *Executor) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.pollLoop(ctx)
}

func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// Cancel aborts a running run. It reports whether the run was active.
func (e *Executor) Cancel(runID uuid.UUID) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	cancel, ok := e.active[runID]
	if ok {
		cancel()
	}
	return ok
}

func (e *Executor) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.processQueuedRuns(ctx)
		}
	}
}

func (e *Executor) processQueuedRuns(ctx context.Context) {
	runs, err := e.store.GetQueuedRuns(ctx)
	if err != nil {
		e.logger.Error("failed to get queued runs", "error", err)
		return
	}
	for _, run := range runs {
		run.Status = store.StatusResolving
		if err := e.store.UpdateRun(ctx, run); err != nil {
			e.logger.Error("failed to claim run", "run_id", run.ID, "error", err)
			continue
		}
		e.wg.Add(1)
		go e.execute(ctx, run)
	}
}

// SetupSubscriptions registers the NATS entry point: run submissions over the
// bus land in the store exactly like API submissions.
func (e *Executor) SetupSubscriptions() {
	if e.bus == nil {
		return
	}
	_ = e.bus.Subscribe(eventbus.SubjectRunRequest, func(_ string, data []byte) {
		var req eventbus.RunRequestEvent
		if err := json.Unmarshal(data, &req); err != nil {
			e.logger.Warn("invalid run request event", "error", err)
			return
		}
		run := &store.Run{
			Name:      req.Name,
			Submitter: req.Submitter,
			Config:    req.Config,
			Status:    store.StatusQueued,
		}
		if run.Name == "" {
			run.Name = "bus-submitted"
		}
		if err := e.store.CreateRun(context.Background(), run); err != nil {
			e.logger.Error("failed to create run from bus request", "error", err)
			return
		}
		e.logger.Info("run created from bus request", "run_id", run.ID)
		_ = e.bus.Publish(eventbus.SubjectRunQueued(run.ID.String()), run)
	})
}

func (e *Executor) execute(ctx context.Context, run *store.Run) {
	defer e.wg.Done()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.activeMu.Lock()
	e.active[run.ID] = cancel
	e.activeMu.Unlock()
	defer func() {
		e.activeMu.Lock()
		delete(e.active, run.ID)
		e.activeMu.Unlock()
	}()

	metrics.RunStarted()
	defer metrics.RunFinished()

	c, err := e.resolve(runCtx, run)
	if err != nil {
		e.failRun(run, fmt.Errorf("resolve: %w", err))
		return
	}

	writer, err := output.NewWriter(e.cfg.Output.Dir, run.ID.String(), e.cfg.Output.ColumnMaxSizeMB)
	if err != nil {
		e.failRun(run, err)
		return
	}
	defer writer.Close()
	if err := writer.WriteConfig(c.Serialize()); err != nil {
		e.failRun(run, err)
		return
	}

	opts := e.runOptions(c)
	chunks := planChunks(run.ID, c.Datasets(), opts)
	if err := e.store.CreateRunChunks(runCtx, chunks); err != nil {
		e.failRun(run, fmt.Errorf("plan chunks: %w", err))
		return
	}

	now := time.Now()
	run.Status = store.StatusRunning
	run.StartedAt = &now
	run.OutputDir = writer.Dir()
	if err := e.store.UpdateRun(runCtx, run); err != nil {
		e.logger.Error("failed to mark run running", "run_id", run.ID, "error", err)
	}
	if e.bus != nil {
		_ = e.bus.Publish(eventbus.SubjectRunStarted(run.ID.String()), eventbus.RunStartedEvent{
			RunID:    run.ID.String(),
			Samples:  c.Samples(),
			Chunks:   len(chunks),
			Datasets: len(c.Datasets()),
		})
	}
	e.logger.Info("run started", "run_id", run.ID, "datasets", len(c.Datasets()), "chunks", len(chunks))

	merged := newRunResult()
	proc := processor.New(c, e.reg, e.tables, e.logger)

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(opts.Workers)
	byDataset := groupChunks(chunks)
	for _, ds := range c.Datasets() {
		ds := ds
		rows := byDataset[ds.Name]
		g.Go(func() error {
			return e.processDataset(gctx, proc, ds, rows, opts, writer, merged)
		})
	}
	err = g.Wait()

	if snapErr := e.writeResults(writer, c, merged); snapErr != nil && err == nil {
		err = snapErr
	}

	run.Processed = merged.processed
	run.Selected = merged.selected
	e.finishRun(run, runCtx, err)
}

// resolve parses the submitted configuration, pulls catalog datasets inline
// and builds the resolved configuration. Any error here fails the run before
// a single event is read.
func (e *Executor) resolve(ctx context.Context, run *store.Run) (*analysis.Configurator, error) {
	cfg, err := analysis.ParseConfig([]byte(run.Config))
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.Datasets.Catalog {
		if e.catalog == nil {
			return nil, fmt.Errorf("dataset %q needs the catalog, which is not configured", name)
		}
		ds, err := e.catalog.Dataset(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("catalog dataset %q: %w", name, err)
		}
		cfg.Datasets.Inline = append(cfg.Datasets.Inline, analysis.DatasetDef{
			Name:       ds.Name,
			Sample:     ds.Sample,
			Year:       ds.Year,
			Era:        ds.Era,
			FinalState: ds.FinalState,
			IsMC:       ds.IsMC,
			XSec:       ds.XSec,
			Kind:       ds.Kind,
			Files:      ds.Files,
			Events:     int(ds.Events),
		})
	}
	return analysis.New(cfg, e.reg)
}

// runOptions merges the run's own options over the service defaults.
func (e *Executor) runOptions(c *analysis.Configurator) analysis.RunOptions {
	opts := c.Run()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = e.cfg.Executor.ChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = e.cfg.Executor.Workers
	}
	if opts.Retries <= 0 {
		opts.Retries = e.cfg.Executor.Retries
	}
	if !opts.SkipBadFiles {
		opts.SkipBadFiles = e.cfg.Executor.SkipBadFiles
	}
	return opts
}

func (e *Executor) processDataset(ctx context.Context, proc *processor.Processor, ds analysis.DatasetDef, rows []*store.RunChunk, opts analysis.RunOptions, writer *output.Writer, merged *runResult) error {
	src, err := source.For(ds)
	if err != nil {
		return err
	}
	reader, err := src.Open(ctx, ds)
	if err != nil {
		if opts.SkipBadFiles {
			e.logger.Warn("skipping unreadable dataset", "dataset", ds.Name, "error", err)
			e.skipRows(ctx, rows, err)
			return nil
		}
		return fmt.Errorf("dataset %q: %w", ds.Name, err)
	}
	defer reader.Close()

	remaining := opts.Limit
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		max := opts.ChunkSize
		if opts.Limit > 0 {
			if remaining <= 0 {
				return nil
			}
			if remaining < max {
				max = remaining
			}
		}
		chunk, err := reader.Next(max)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if opts.SkipBadFiles {
				e.logger.Warn("skipping unreadable chunk", "dataset", ds.Name, "index", i, "error", err)
				e.skipRow(ctx, rowAt(rows, i), err)
				continue
			}
			return fmt.Errorf("dataset %q chunk %d: %w", ds.Name, i, err)
		}
		remaining -= chunk.Size()

		if err := e.processChunk(ctx, proc, ds, rowAt(rows, i), chunk.Size(), opts, writer, merged, func() (*processor.Result, error) {
			return proc.Process(ctx, chunk)
		}); err != nil {
			return err
		}
	}
}

// processChunk runs one chunk with retries. A chunk that exhausts its
// attempts fails the run unless bad files are skippable.
func (e *Executor) processChunk(ctx context.Context, proc *processor.Processor, ds analysis.DatasetDef, row *store.RunChunk, size int, opts analysis.RunOptions, writer *output.Writer, merged *runResult, process func() (*processor.Result, error)) error {
	var res *processor.Result
	var err error
	attempts := 0
	for attempts < opts.Retries+1 {
		attempts++
		start := time.Now()
		res, err = process()
		if err == nil {
			metrics.RecordChunk(ds.Sample, "completed", res.Processed, res.Selected, time.Since(start))
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("chunk attempt failed", "dataset", ds.Name, "attempt", attempts, "error", err)
		if attempts < opts.Retries+1 {
			metrics.RecordChunkRetry()
			if e.bus != nil && row != nil {
				_ = e.bus.Publish(eventbus.SubjectChunkRetried(row.RunID.String()), eventbus.ChunkEvent{
					RunID: row.RunID.String(), Dataset: ds.Name, Index: rowIndex(row), Attempt: attempts, Error: err.Error(),
				})
			}
		}
	}
	if err != nil {
		metrics.RecordChunk(ds.Sample, "failed", size, 0, 0)
		if row != nil {
			row.Status = store.ChunkFailed
			row.Attempts = attempts
			row.Error = err.Error()
			_ = e.store.UpdateRunChunk(ctx, row)
			if e.bus != nil {
				_ = e.bus.Publish(eventbus.SubjectChunkFailed(row.RunID.String()), eventbus.ChunkEvent{
					RunID: row.RunID.String(), Dataset: ds.Name, Index: rowIndex(row), Attempt: attempts, Error: err.Error(),
				})
			}
		}
		if opts.SkipBadFiles {
			e.logger.Warn("skipping failed chunk", "dataset", ds.Name, "error", err)
			return nil
		}
		return fmt.Errorf("dataset %q: %w", ds.Name, err)
	}

	if err := merged.absorb(res, writer); err != nil {
		return err
	}
	if row != nil {
		row.Status = store.ChunkCompleted
		row.Attempts = attempts
		row.Processed = int64(res.Processed)
		row.Selected = int64(res.Selected)
		_ = e.store.UpdateRunChunk(ctx, row)
		if e.bus != nil {
			_ = e.bus.Publish(eventbus.SubjectChunkCompleted(row.RunID.String()), eventbus.ChunkEvent{
				RunID: row.RunID.String(), Dataset: ds.Name, Index: rowIndex(row), Attempt: attempts,
				Processed: int64(res.Processed), Selected: int64(res.Selected),
			})
		}
	}
	return nil
}

func (e *Executor) writeResults(writer *output.Writer, c *analysis.Configurator, merged *runResult) error {
	merged.mu.Lock()
	defer merged.mu.Unlock()

	var snaps []histogram.Snapshot
	samples := make([]string, 0, len(merged.managers))
	for s := range merged.managers {
		samples = append(samples, s)
	}
	sort.Strings(samples)
	for _, s := range samples {
		snaps = append(snaps, merged.managers[s].Snapshots()...)
	}
	if err := writer.WriteHistograms(snaps); err != nil {
		return err
	}
	return writer.WriteReport(merged.report(c))
}

func (e *Executor) failRun(run *store.Run, err error) {
	e.logger.Error("run failed", "run_id", run.ID, "error", err)
	now := time.Now()
	run.Status = store.StatusFailed
	run.Error = err.Error()
	run.CompletedAt = &now
	if uerr := e.store.UpdateRun(context.Background(), run); uerr != nil {
		e.logger.Error("failed to persist run failure", "run_id", run.ID, "error", uerr)
	}
	metrics.RecordRun(string(store.StatusFailed))
	if e.bus != nil {
		_ = e.bus.Publish(eventbus.SubjectRunFailed(run.ID.String()), eventbus.RunFailedEvent{
			RunID: run.ID.String(), Error: err.Error(),
		})
	}
}

func (e *Executor) finishRun(run *store.Run, runCtx context.Context, err error) {
	switch {
	case err != nil && runCtx.Err() != nil:
		now := time.Now()
		run.Status = store.StatusCancelled
		run.Error = "cancelled"
		run.CompletedAt = &now
		if uerr := e.store.UpdateRun(context.Background(), run); uerr != nil {
			e.logger.Error("failed to persist cancellation", "run_id", run.ID, "error", uerr)
		}
		metrics.RecordRun(string(store.StatusCancelled))
		if e.bus != nil {
			_ = e.bus.Publish(eventbus.SubjectRunCancelled(run.ID.String()), eventbus.RunFailedEvent{
				RunID: run.ID.String(), Error: "cancelled",
			})
		}
		e.logger.Info("run cancelled", "run_id", run.ID)
	case err != nil:
		e.failRun(run, err)
	default:
		now := time.Now()
		run.Status = store.StatusCompleted
		run.CompletedAt = &now
		if uerr := e.store.UpdateRun(context.Background(), run); uerr != nil {
			e.logger.Error("failed to persist completion", "run_id", run.ID, "error", uerr)
		}
		metrics.RecordRun(string(store.StatusCompleted))
		if e.bus != nil {
			_ = e.bus.Publish(eventbus.SubjectRunCompleted(run.ID.String()), eventbus.RunCompletedEvent{
				RunID: run.ID.String(), Processed: run.Processed, Selected: run.Selected, OutputDir: run.OutputDir,
			})
		}
		e.logger.Info("run completed", "run_id", run.ID, "processed", run.Processed, "selected", run.Selected)
	}
}

// planChunks lays out the bookkeeping rows for a run. Datasets with unknown
// event counts get a single open-ended row.
func planChunks(runID uuid.UUID, datasets []analysis.DatasetDef, opts analysis.RunOptions) []*store.RunChunk {
	var rows []*store.RunChunk
	for _, ds := range datasets {
		events := ds.Events
		if opts.Limit > 0 && (events == 0 || events > opts.Limit) {
			events = opts.Limit
		}
		if events <= 0 {
			rows = append(rows, &store.RunChunk{
				RunID: runID, Dataset: ds.Name, Sample: ds.Sample,
				Index: 0, Start: 0, Stop: 0, Status: store.ChunkPending,
			})
			continue
		}
		for i, start := 0, 0; start < events; i, start = i+1, start+opts.ChunkSize {
			stop := start + opts.ChunkSize
			if stop > events {
				stop = events
			}
			rows = append(rows, &store.RunChunk{
				RunID: runID, Dataset: ds.Name, Sample: ds.Sample,
				Index: i, Start: int64(start), Stop: int64(stop), Status: store.ChunkPending,
			})
		}
	}
	return rows
}

func groupChunks(rows []*store.RunChunk) map[string][]*store.RunChunk {
	out := make(map[string][]*store.RunChunk)
	for _, r := range rows {
		out[r.Dataset] = append(out[r.Dataset], r)
	}
	return out
}

func rowAt(rows []*store.RunChunk, i int) *store.RunChunk {
	if i < len(rows) {
		return rows[i]
	}
	return nil
}

func rowIndex(row *store.RunChunk) int {
	if row == nil {
		return -1
	}
	return row.Index
}

func (e *Executor) skipRows(ctx context.Context, rows []*store.RunChunk, err error) {
	for _, r := range rows {
		e.skipRow(ctx, r, err)
	}
}

func (e *Executor) skipRow(ctx context.Context, row *store.RunChunk, err error) {
	if row == nil {
		return
	}
	row.Status = store.ChunkSkipped
	row.Error = err.Error()
	_ = e.store.UpdateRunChunk(ctx, row)
}

// runResult accumulates chunk results under one lock.
type runResult struct {
	mu        sync.Mutex
	managers  map[string]*histogram.Manager
	modifiers map[string]map[string][]string
	processed int64
	selected  int64
}

func newRunResult() *runResult {
	return &runResult{
		managers:  make(map[string]*histogram.Manager),
		modifiers: make(map[string]map[string][]string),
	}
}

func (r *runResult) absorb(res *processor.Result, writer *output.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed += int64(res.Processed)
	r.selected += int64(res.Selected)
	if m, ok := r.managers[res.Sample]; ok {
		if err := m.Merge(res.Histograms); err != nil {
			return err
		}
	} else {
		r.managers[res.Sample] = res.Histograms
	}
	if _, ok := r.modifiers[res.Sample]; !ok && len(res.Modifiers) > 0 {
		r.modifiers[res.Sample] = res.Modifiers
	}
	for _, block := range res.Columns {
		if err := writer.WriteColumns(block); err != nil {
			return err
		}
	}
	return nil
}

// Report is the run summary written next to the histograms and served by
// the API.
type Report struct {
	Samples   map[string]SampleReport `json:"samples"`
	Processed int64                   `json:"processed"`
	Selected  int64                   `json:"selected"`
}

type SampleReport struct {
	Modifiers map[string][]string `json:"modifiers,omitempty"`
	Shapes    []string            `json:"shapes,omitempty"`
}

func (r *runResult) report(c *analysis.Configurator) *Report {
	rep := &Report{
		Samples:   make(map[string]SampleReport),
		Processed: r.processed,
		Selected:  r.selected,
	}
	for _, sample := range c.Samples() {
		rep.Samples[sample] = SampleReport{
			Modifiers: r.modifiers[sample],
			Shapes:    c.AvailableShapeVariations(sample),
		}
	}
	return rep
}
