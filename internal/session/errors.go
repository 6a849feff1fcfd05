// Package-level sentinel errors.  Contract violations (mutating a session in
// the wrong state) surface as hard errors; races that have a benign outcome
// (no live session, task already gone) are reported as no-op results
// instead, so they never reach this file.
package session

import "errors"

// ErrNotOnAir is returned when End or Extend is called on a session that is
// not live.  This is a programming-contract violation, not a race to be
// retried.
var ErrNotOnAir = errors.New("session: not on air")

// ErrNotBefore is returned when Start is called on a session that already
// left BEFORE.
var ErrNotBefore = errors.New("session: not in before state")

// ErrNotReservation is returned when a reservation-only transition is
// attempted on a real-time session.
var ErrNotReservation = errors.New("session: not a reservation session")

// ErrOccupied is returned when starting a session while another one is
// live; it protects the single-occupancy invariant.
var ErrOccupied = errors.New("session: another session is on air")

// ErrNoPendingReservation is returned when a reservation start is requested
// but no reservation session is waiting in BEFORE.
var ErrNoPendingReservation = errors.New("session: no pending reservation session")
