package trajectoryjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"threatbench/internal/logger"
	"threatbench/pkg/models"
)

// Writer appends episode records to a JSON lines file. One Writer may be
// shared by several scenarios.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter opens path for appending, creating parent directories.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trajectory file: %w", err)
	}

	logger.Infof("Trajectory JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteEpisodes writes a batch of records, one per line.
func (w *Writer) WriteEpisodes(records []*models.EpisodeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("trajectory writer is closed")
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := w.encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode episode %s: %w", rec.EpisodeID, err)
		}
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
