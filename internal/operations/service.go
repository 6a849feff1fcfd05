// Package operations carries the occupant-facing mutations of a live
// session: voluntary extension and voluntary end.  It layers the request
// policy (who may do it, and when) on top of the registry, which remains
// the sole place where state actually changes.
package operations

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/practice-room-server/internal/clock"
	"github.com/iliyamo/practice-room-server/internal/session"
	"github.com/iliyamo/practice-room-server/internal/sessionlog"
)

// ErrNotAttending is returned when a user who is not attending the live
// session attempts to operate on it.
var ErrNotAttending = errors.New("operations: user is not attending the live session")

// ErrNoLiveSession is returned when nothing is live.  Callers treat it as a
// benign race, not a fault.
var ErrNoLiveSession = errors.New("operations: no live session")

// ErrExtendWindowClosed is returned when an extension is requested with
// less than ExtendCutoff left; at that point the force-end alarm already
// went out and the budget is spent.
var ErrExtendWindowClosed = errors.New("operations: too late to extend")

// ErrEndTooEarly is returned when a voluntary end is requested before
// MinOccupancy has elapsed.
var ErrEndTooEarly = errors.New("operations: session too young to end")

const (
	// ExtendCutoff is the minimum remaining budget required to extend.
	ExtendCutoff = 10 * time.Minute
	// MinOccupancy is the minimum occupancy before a voluntary end.
	MinOccupancy = 15 * time.Minute
)

// Service validates and applies occupant operations.
type Service struct {
	manager   *session.Manager
	finalizer *sessionlog.Finalizer
	clk       clock.Clock
	loc       *time.Location
}

// NewService constructs an operations service.
func NewService(manager *session.Manager, finalizer *sessionlog.Finalizer, clk clock.Clock, loc *time.Location) *Service {
	return &Service{manager: manager, finalizer: finalizer, clk: clk, loc: loc}
}

// Extend adds thirty minutes to the live session on behalf of userID.  The
// user must be attending and at least ExtendCutoff of budget must remain.
func (s *Service) Extend(userID int64) error {
	if !s.manager.IsAlreadyAttending(userID) {
		return ErrNotAttending
	}
	cur := s.manager.CurrentSession()
	if cur == nil {
		return ErrNoLiveSession
	}
	remaining, err := cur.Remaining(s.clk.Now(), s.loc)
	if err != nil {
		return err
	}
	if remaining < ExtendCutoff {
		return ErrExtendWindowClosed
	}
	extended, err := s.manager.ExtendSession()
	if err != nil {
		return err
	}
	if extended == nil {
		return ErrNoLiveSession
	}
	return nil
}

// End terminates the live session on behalf of userID and hands the
// finalized record to the durable log with the supplied cleanup photos.
// The user must be attending and the session at least MinOccupancy old.
func (s *Service) End(ctx context.Context, userID int64, returnImageURLs []string) error {
	if !s.manager.IsAlreadyAttending(userID) {
		return ErrNotAttending
	}
	cur := s.manager.CurrentSession()
	if cur == nil {
		return ErrNoLiveSession
	}
	startAt, err := cur.StartsAt(s.loc)
	if err != nil {
		return err
	}
	if s.clk.Now().Sub(startAt) < MinOccupancy {
		return ErrEndTooEarly
	}
	ended, err := s.manager.EndSession()
	if err != nil {
		return err
	}
	if ended == nil {
		return ErrNoLiveSession
	}
	s.finalizer.Finalize(ctx, session.Finalized{Session: ended, ForceEnd: false, ReturnImageURLs: returnImageURLs})
	return nil
}
