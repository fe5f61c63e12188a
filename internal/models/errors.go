package models

import "errors"

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when a COMPLETED or FAILED job is mutated.
	ErrJobTerminal     = errors.New("job already finished")
	ErrProductNotFound = errors.New("product not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("already exists")
)
