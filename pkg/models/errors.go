// Package models contains domain models for adaptly.
package models

import "errors"

var (
	// ErrInvalidEvent is returned when an interaction event fails validation.
	// Invalid events are rejected synchronously and never queued.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrNotFound is returned by repositories and the catalog when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownGate is returned when a gate id is not present in the registry.
	ErrUnknownGate = errors.New("unknown gate")

	// ErrInvalidArgument is returned for malformed request parameters such as an unknown method override.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidConfig marks configuration invariant violations. These are fatal at startup.
	ErrInvalidConfig = errors.New("invalid configuration")
)
