package eventbus

import "time"

// RunRequestEvent submits an analysis run over the bus instead of the HTTP
// API. Config carries the analysis configuration YAML verbatim.
type RunRequestEvent struct {
	Name      string `json:"name"`
	Submitter string `json:"submitter,omitempty"`
	Config    string `json:"config"`
}

type RunStartedEvent struct {
	RunID    string   `json:"run_id"`
	Samples  []string `json:"samples"`
	Chunks   int      `json:"chunks"`
	Datasets int      `json:"datasets"`
}

type RunCompletedEvent struct {
	RunID     string `json:"run_id"`
	Processed int64  `json:"processed"`
	Selected  int64  `json:"selected"`
	OutputDir string `json:"output_dir"`
}

type RunFailedEvent struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

type ChunkEvent struct {
	RunID     string `json:"run_id"`
	Dataset   string `json:"dataset"`
	Index     int    `json:"index"`
	Attempt   int    `json:"attempt"`
	Processed int64  `json:"processed,omitempty"`
	Selected  int64  `json:"selected,omitempty"`
	Error     string `json:"error,omitempty"`
}

type StatsEvent struct {
	Queued    int       `json:"queued"`
	Running   int       `json:"running"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	AvgMs     float64   `json:"avg_run_ms"`
	Timestamp time.Time `json:"timestamp"`
}
