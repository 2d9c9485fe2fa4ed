package pipeline

import (
	"context"
	"time"

	"forensicgraph/internal/logger"
	"forensicgraph/internal/transform"
)

// BatchSource supplies raw event batches, blocking until events arrive or a
// poll timeout elapses.
type BatchSource interface {
	PopBatch(ctx context.Context, maxEvents int) ([]map[string]interface{}, error)
	Close() error
}

// Stream drives the batch pipeline continuously from a queue: pop, capture,
// normalize, run, emit decisions.
type Stream struct {
	source    BatchSource
	runner    *Runner
	decisions DecisionWriter
	capture   CaptureWriter
	batchSize int
	errDelay  time.Duration
}

// NewStream creates a streaming driver. The decision and capture writers are
// optional.
func NewStream(source BatchSource, runner *Runner, decisions DecisionWriter, capture CaptureWriter, batchSize int) *Stream {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Stream{
		source:    source,
		runner:    runner,
		decisions: decisions,
		capture:   capture,
		batchSize: batchSize,
		errDelay:  500 * time.Millisecond,
	}
}

// Run loops until the context is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	logger.Infof("Stream pipeline started (batch_size=%d)", s.batchSize)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := s.source.PopBatch(ctx, s.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Failed to pop batch: %v", err)
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if len(raw) == 0 {
			continue
		}

		if s.capture != nil {
			if err := s.capture.WriteRaw(raw); err != nil {
				logger.Errorf("Failed to capture raw batch: %v", err)
			}
		}

		batch := transform.NormalizeBatch(raw)
		if len(batch) == 0 {
			logger.Warnf("Batch of %d events had no usable identities", len(raw))
			continue
		}

		result, err := s.runner.Run(batch)
		if err != nil {
			logger.Errorf("Pipeline run failed: %v", err)
			continue
		}

		if s.decisions != nil {
			for {
				if err := s.decisions.WriteResults(result.Batch.PerEvent); err != nil {
					logger.Errorf("Failed to write decisions: %v", err)
					if !s.sleep(ctx) {
						return ctx.Err()
					}
					continue
				}
				break
			}
		}
	}
}

func (s *Stream) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.errDelay):
		return true
	}
}

// Close releases stream resources.
func (s *Stream) Close() error {
	if s.decisions != nil {
		if err := s.decisions.Close(); err != nil {
			logger.Errorf("Failed to close decision writer: %v", err)
		}
	}
	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			logger.Errorf("Failed to close capture writer: %v", err)
		}
	}
	if s.source != nil {
		return s.source.Close()
	}
	return nil
}
