package repository

import "errors"

var (
	// ErrNotFound is returned by writes that target a missing row.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned when a user email is already taken.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrReferenced is returned when a delete would orphan rows pointing at the record.
	ErrReferenced = errors.New("record is still referenced")
)
