package storage

import "errors"

// ErrSessionNotFound is returned by SessionRepo operations that target
// a missing or already-archived session.
var ErrSessionNotFound = errors.New("session not found")

// ErrMessageNotFound is returned by MessageRepo operations that target
// a missing message.
var ErrMessageNotFound = errors.New("message not found")
