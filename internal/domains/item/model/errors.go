package model

import "errors"

var (
	ErrItemNotFound      = errors.New("item not found")
	ErrItemAlreadyExists = errors.New("item already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStatusConflict means a concurrent writer changed the status
	// between read and conditional write. Retryable.
	ErrStatusConflict = errors.New("status changed concurrently")
)
