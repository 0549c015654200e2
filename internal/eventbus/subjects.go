package eventbus

const (
	SubjectRunRequest = "espresso.run.request"
	SubjectRunStats   = "espresso.run.stats"

	StreamName   = "ESPRESSO_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

func SubjectRunQueued(runID string) string    { return "espresso.run." + runID + ".queued" }
func SubjectRunStarted(runID string) string   { return "espresso.run." + runID + ".started" }
func SubjectRunCompleted(runID string) string { return "espresso.run." + runID + ".completed" }
func SubjectRunFailed(runID string) string    { return "espresso.run." + runID + ".failed" }
func SubjectRunCancelled(runID string) string { return "espresso.run." + runID + ".cancelled" }

func SubjectChunkCompleted(runID string) string { return "espresso.chunk." + runID + ".completed" }
func SubjectChunkFailed(runID string) string    { return "espresso.chunk." + runID + ".failed" }
func SubjectChunkRetried(runID string) string   { return "espresso.chunk." + runID + ".retried" }
