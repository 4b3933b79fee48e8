package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// JSONStorage reads positions from a JSON file holding an array of records.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
}

// NewJSONStorage creates a JSONStorage for path. The file is not read until
// LoadPositions is called.
func NewJSONStorage(path string) *JSONStorage {
	return &JSONStorage{filepath: path}
}

// Path returns the backing file path.
func (s *JSONStorage) Path() string {
	return s.filepath
}

// LoadPositions reads and decodes the file. An empty file or a JSON null
// yields no positions.
func (s *JSONStorage) LoadPositions() ([]models.OpenPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, s.filepath)
		}
		return nil, fmt.Errorf("reading positions file: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []models.OpenPosition{}, nil
	}

	var positions []models.OpenPosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("decoding positions file %s: %w", s.filepath, err)
	}
	return positions, nil
}
