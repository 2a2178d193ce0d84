package db

import "errors"

// Sentinel errors for database operations
var (
	// ErrMessageNotFound indicates that a feed message was not found
	ErrMessageNotFound = errors.New("message not found")

	// ErrCardNotFound indicates that a patch card was not found
	ErrCardNotFound = errors.New("patch card not found")

	// ErrThreadNotFound indicates that a series thread was not found
	ErrThreadNotFound = errors.New("series thread not found")

	// ErrFilterNotFound indicates that a named filter rule was not found
	ErrFilterNotFound = errors.New("filter not found")

	// ErrSubsystemNotFound indicates that a subsystem subscription was not found
	ErrSubsystemNotFound = errors.New("subsystem not found")

	// ErrConfigKeyNotFound indicates that a filter_config key has no value
	ErrConfigKeyNotFound = errors.New("config key not found")
)
