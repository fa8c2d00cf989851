package gravel

import "errors"

var (
	// ErrNotInitialized is returned when an engine is created before
	// Init has been called.
	ErrNotInitialized = errors.New("gravel: not initialized, call Init first")

	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("gravel: a run is already in progress")

	// ErrClosed is returned from operations on a closed engine.
	ErrClosed = errors.New("gravel: engine closed")

	// ErrInvalidConfig reports an unusable configuration value.
	ErrInvalidConfig = errors.New("gravel: invalid config")
)
