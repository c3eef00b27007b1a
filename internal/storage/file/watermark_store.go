// Package file implements storage backed by local files.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"signal-relay/internal/storage"
)

// WatermarkStore keeps the watermark map as a JSON object
// mapping source ID (string) to watermark (integer).
type WatermarkStore struct {
	path string
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// NewWatermarkStore creates dir if needed and returns a store for dir/name.
func NewWatermarkStore(dir, name string) (*WatermarkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &WatermarkStore{path: filepath.Join(dir, name)}, nil
}

// Path returns the snapshot file path.
func (s *WatermarkStore) Path() string {
	return s.path
}

// Load reads and decodes the snapshot file.
func (s *WatermarkStore) Load(_ context.Context) (map[int64]int64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, s.path, err)
	}

	out := make(map[int64]int64, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: source id %q: %v", storage.ErrCorrupt, k, err)
		}
		out[id] = v
	}
	return out, nil
}

// Save writes the snapshot to a temp file and renames it over the previous one.
func (s *WatermarkStore) Save(_ context.Context, watermarks map[int64]int64) error {
	raw := make(map[string]int64, len(watermarks))
	for k, v := range watermarks {
		raw[strconv.FormatInt(k, 10)] = v
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal watermarks: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
