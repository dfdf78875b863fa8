package repository

import "errors"

var (
	// ErrRecordNotFound indicates no marking record has the requested id
	ErrRecordNotFound = errors.New("marking record not found")

	// ErrInvalidRecord indicates a record that cannot be stored
	ErrInvalidRecord = errors.New("invalid marking record")

	// ErrRepositoryUnavailable indicates the repository is unavailable
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
