package storage

import (
	"sync"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// MockStorage implements Interface for testing
type MockStorage struct {
	mu            sync.Mutex
	loadError     error
	positions     []models.OpenPosition
	loadCallCount int
}

// NewMockStorage creates a new mock storage holding positions
func NewMockStorage(positions ...models.OpenPosition) *MockStorage {
	return &MockStorage{positions: positions}
}

// LoadPositions returns a copy of the configured positions or the injected error
func (m *MockStorage) LoadPositions() ([]models.OpenPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	if m.loadError != nil {
		return nil, m.loadError
	}
	out := make([]models.OpenPosition, len(m.positions))
	copy(out, m.positions)
	return out, nil
}

// SetLoadError makes subsequent loads fail with err
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// SetPositions replaces the stored positions
func (m *MockStorage) SetPositions(positions []models.OpenPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = positions
}

// GetLoadCallCount returns how many times LoadPositions was called
func (m *MockStorage) GetLoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCallCount
}
