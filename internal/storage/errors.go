package storage

import "errors"

// ErrStoreNotFound is returned when the position file does not exist
var ErrStoreNotFound = errors.New("position store not found")
