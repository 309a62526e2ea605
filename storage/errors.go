package storage

import "errors"

// Storage error constants
var (
	// ErrIOCNotFound is returned when an IOC is not found
	ErrIOCNotFound = errors.New("IOC not found")

	// ErrHoneypotNotFound is returned when a honeypot is not found
	ErrHoneypotNotFound = errors.New("honeypot not found")

	// ErrDuplicateHoneypot is returned when creating a honeypot whose name already exists
	ErrDuplicateHoneypot = errors.New("honeypot already exists")

	// ErrConstraintViolation is returned when a database constraint is violated
	ErrConstraintViolation = errors.New("constraint violation")
)
