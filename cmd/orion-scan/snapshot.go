package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// SnapshotSaver writes annotated success frames to disk as PNG.
//
// Thread-safe: Save may be called from multiple goroutines.
type SnapshotSaver struct {
	dir     string
	now     func() time.Time
	seq     atomic.Uint64
	saved   atomic.Uint64
	dropped atomic.Uint64
}

// NewSnapshotSaver creates dir if needed.
func NewSnapshotSaver(dir string) (*SnapshotSaver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotSaver{dir: dir, now: time.Now}, nil
}

// Save writes img and returns the file path.
//
// Filename format: scan_{seq:06d}_{timestamp}_{session}.png
// Example: scan_000003_20251105_234517.123_6f1c.png
func (s *SnapshotSaver) Save(img *image.RGBA, sessionID string) (string, error) {
	if img == nil || img.Rect.Empty() {
		s.dropped.Add(1)
		return "", fmt.Errorf("empty snapshot")
	}

	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		short = "none"
	}
	name := fmt.Sprintf("scan_%06d_%s_%s.png",
		s.seq.Add(1),
		s.now().Format("20060102_150405.000"),
		short)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		s.dropped.Add(1)
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		s.dropped.Add(1)
		return "", fmt.Errorf("PNG encode failed: %w", err)
	}
	if err := f.Close(); err != nil {
		s.dropped.Add(1)
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	s.saved.Add(1)
	return path, nil
}

// Stats returns current save statistics.
func (s *SnapshotSaver) Stats() (saved, dropped uint64) {
	return s.saved.Load(), s.dropped.Load()
}
