package models

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidName = errors.New("name must not be blank")
	// ErrNotDeleted is returned when permanently deleting an image that is
	// not in the recycle bin.
	ErrNotDeleted = errors.New("image is not in the recycle bin")
)
