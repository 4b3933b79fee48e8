// Package storage reads the list of open spread positions recorded by the
// operator. The monitor only reads the store; it never writes it back.
package storage

import (
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// Interface defines the contract for position persistence.
//
// Implementations must be safe for concurrent use.
type Interface interface {
	// LoadPositions returns every recorded position, active or not.
	// A missing store yields ErrStoreNotFound.
	LoadPositions() ([]models.OpenPosition, error)
}

// NewStorage creates a new storage implementation (currently JSON-based)
func NewStorage(path string) Interface {
	return NewJSONStorage(path)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
