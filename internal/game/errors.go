package game

import "errors"

var (
	// ErrSessionNotFound is returned for unknown, finished, deleted or evicted sessions
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when another transition of the same session is in flight
	ErrSessionBusy = errors.New("session is busy with another request")

	// ErrInvalidState is returned when an event is not allowed in the current state
	ErrInvalidState = errors.New("invalid state for this operation")

	// ErrInvalidInput is returned for malformed caller input, before any provider call
	ErrInvalidInput = errors.New("invalid input")

	// ErrGameNotFound is returned when no finished game is stored for a session id
	ErrGameNotFound = errors.New("game not found")

	// ErrStorageDisabled is returned by history lookups when persistence is off
	ErrStorageDisabled = errors.New("game history storage is disabled")
)
