package domain

import "errors"

var (
	// ErrSchema is returned by ingestion when required columns are absent.
	ErrSchema = errors.New("schema error")

	// ErrEmptyInput is returned when no valid rows remain.
	ErrEmptyInput = errors.New("empty input")

	// ErrPrecondition is returned by the engines when upstream guarantees are broken.
	ErrPrecondition = errors.New("precondition violation")

	// ErrConfig is returned when a configuration is incomplete or inconsistent.
	ErrConfig = errors.New("config error")

	// ErrNotFound is returned by archive lookups.
	ErrNotFound = errors.New("record not found")
)
