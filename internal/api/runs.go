package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/eventbus"
	"github.com/espresso-hep/espresso/internal/store"
	"github.com/espresso-hep/espresso/internal/weights"
)

// Canceller aborts an in-flight run. Satisfied by the executor.
type Canceller interface {
	Cancel(runID uuid.UUID) bool
}

type RunsHandler struct {
	store     store.Store
	bus       eventbus.Bus
	canceller Canceller
	reg       *weights.Registry
}

func NewRunsHandler(s store.Store, bus eventbus.Bus, c Canceller, reg *weights.Registry) *RunsHandler {
	return &RunsHandler{store: s, bus: bus, canceller: c, reg: reg}
}

type CreateRunRequest struct {
	Name      string `json:"name"`
	Submitter string `json:"submitter,omitempty"`
	Config    string `json:"config"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// Create validates a submitted configuration and queues the run. Dry runs
// return the resolved configuration document without queueing anything.
// Configuration errors come back as 400 with the resolver's message.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Config == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "config required"})
		return
	}

	cfg, err := analysis.ParseConfig([]byte(req.Config))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	// Catalog-only configs cannot be fully resolved here; everything else is
	// validated up front so a broken submission never reaches the executor.
	var resolved *analysis.Configurator
	if len(cfg.Datasets.Catalog) == 0 {
		resolved, err = analysis.New(cfg, h.reg)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	if req.DryRun {
		if resolved == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "parsed, catalog datasets unresolved"})
			return
		}
		writeJSON(w, http.StatusOK, resolved.Serialize())
		return
	}

	run := &store.Run{
		Name:      req.Name,
		Submitter: req.Submitter,
		Config:    req.Config,
		Status:    store.StatusQueued,
	}
	if run.Name == "" {
		run.Name = "unnamed"
	}
	if err := h.store.CreateRun(r.Context(), run); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if h.bus != nil {
		_ = h.bus.Publish(eventbus.SubjectRunQueued(run.ID.String()), run)
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Submitter: r.URL.Query().Get("submitter"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := store.RunStatus(s)
		filter.Status = &status
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Config returns the resolved configuration document for a run.
func (h *RunsHandler) Config(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	cfg, err := analysis.ParseConfig([]byte(run.Config))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(cfg.Datasets.Catalog) > 0 {
		// Resolution happened in the executor; serve its dump.
		h.serveOutputFile(w, run, "config.json")
		return
	}
	resolved, err := analysis.New(cfg, h.reg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resolved.Serialize())
}

// Report serves the run summary written by the executor.
func (h *RunsHandler) Report(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.serveOutputFile(w, run, "report.json")
}

// Chunks lists the bookkeeping rows of a run.
func (h *RunsHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	chunks, err := h.store.GetRunChunks(r.Context(), run.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if chunks == nil {
		chunks = []*store.RunChunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if run.Status.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run already finished"})
		return
	}
	if h.canceller != nil && h.canceller.Cancel(run.ID) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
		return
	}
	// Not picked up by the executor yet: cancel directly.
	now := time.Now()
	run.Status = store.StatusCancelled
	run.CompletedAt = &now
	if err := h.store.UpdateRun(r.Context(), run); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if h.bus != nil {
		_ = h.bus.Publish(eventbus.SubjectRunCancelled(run.ID.String()), eventbus.RunFailedEvent{
			RunID: run.ID.String(), Error: "cancelled",
		})
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *RunsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *RunsHandler) lookup(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return nil, false
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return nil, false
	}
	return run, true
}

func (h *RunsHandler) serveOutputFile(w http.ResponseWriter, run *store.Run, name string) {
	if run.OutputDir == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": name + " not available yet"})
		return
	}
	data, err := os.ReadFile(filepath.Join(run.OutputDir, name))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": name + " not available yet"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
