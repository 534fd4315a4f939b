package verification

import "time"

// Recorder observes pipeline timings. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	// ObserveStage records one stage of op ("store" or "verify").
	ObserveStage(op, stage string, d time.Duration, err error)
	// ObservePipeline records a finished pipeline with its outcome label.
	ObservePipeline(op, outcome string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, string, time.Duration, error) {}
func (nopRecorder) ObservePipeline(string, string, time.Duration)      {}
