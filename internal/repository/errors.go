// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as handlers
// to distinguish between different failure scenarios without inspecting
// driver errors.
package repository

import "errors"

// ErrMemberNotFound is returned when a member id resolves to no row.
// Handlers should translate this into an HTTP 401/404 response depending on
// where the id came from.
var ErrMemberNotFound = errors.New("member not found")
