package registry

import "errors"

var (
	// ErrConflict is returned by Insert when the id already exists.
	ErrConflict = errors.New("registry: recording id already exists")

	// ErrNotFound is returned by Lookup/Remove when the id is not present.
	ErrNotFound = errors.New("registry: recording not found")
)
