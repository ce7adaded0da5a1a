// ABOUTME: Common storage errors
// ABOUTME: Enables consistent error handling across storage implementations

package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyClosed is returned when closing a visit that already has an exit time.
var ErrAlreadyClosed = errors.New("visit already closed")
