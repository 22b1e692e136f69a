package engine

// Progress stages, in order.
const (
	StageValidating = "validating"
	StageAdmitting  = "admitting"
	StageAnalyzing  = "analyzing"
	StageMerging    = "merging"
	StageDone       = "done"
)

// ProgressEvent is an observation side channel: stage transitions with a
// monotonically increasing percentage. Correctness never depends on it.
type ProgressEvent struct {
	Stage      string
	Percent    int
	ReviewerID string
}

// ProgressFunc receives progress events. It is called synchronously from
// the audit path and must be fast.
type ProgressFunc func(ProgressEvent)

func (e *Engine) emitProgress(stage string, percent int, reviewerID string) {
	if e.progress == nil {
		return
	}
	e.progress(ProgressEvent{Stage: stage, Percent: percent, ReviewerID: reviewerID})
}
