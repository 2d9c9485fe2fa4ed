package pipeline

import "forensicgraph/pkg/models"

// DecisionWriter receives per-event triage results.
type DecisionWriter interface {
	WriteResults(results []models.EventResult) error
	Close() error
}

// CaptureWriter receives raw queue messages for replay capture.
type CaptureWriter interface {
	WriteRaw(events []map[string]interface{}) error
	Close() error
}
