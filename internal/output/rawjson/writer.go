// Package rawjson captures raw queue messages to a JSON lines file so a
// production batch can be replayed through the pipeline later.
package rawjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"forensicgraph/internal/logger"
)

// Writer appends raw event objects to a JSONL capture file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a capture writer. Opens in append mode so restarts keep
// extending the same capture.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	logger.Infof("Raw capture writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteRaw appends a batch of raw events.
func (w *Writer) WriteRaw(events []map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, event := range events {
		if err := w.encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode raw event: %w", err)
		}
	}
	return nil
}

// Close closes the capture file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
