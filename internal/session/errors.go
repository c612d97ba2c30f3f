package session

import "errors"

var (
	// ErrNoRoom is returned by Initialize when the room has no id.
	ErrNoRoom = errors.New("session: room is required")
	// ErrAlreadyInitialized is returned when Initialize names a different
	// room than the one the session is bound to.
	ErrAlreadyInitialized = errors.New("session: already initialized for another room")
)
