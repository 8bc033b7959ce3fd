package store

import "errors"

var (
	ErrNotFound            = errors.New("pending clarification not found")
	ErrPersistenceFailed   = errors.New("pending clarification not persisted")
	ErrInvalidRecord       = errors.New("invalid pending clarification")
	ErrSnapshotUnavailable = errors.New("snapshot unavailable for in-memory store")
)
