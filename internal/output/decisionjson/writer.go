// Package decisionjson writes per-event triage decisions to a JSON lines
// file, one result per line.
package decisionjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"forensicgraph/internal/logger"
	"forensicgraph/pkg/models"
)

// Writer outputs decisions to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a JSONL writer for triage decisions.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	logger.Infof("Decision JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteResults writes a batch of per-event results.
func (w *Writer) WriteResults(results []models.EventResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range results {
		if err := w.encoder.Encode(&results[i]); err != nil {
			return fmt.Errorf("failed to encode decision: %w", err)
		}
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
