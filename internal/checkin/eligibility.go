// Package checkin decides what a present user may do with the practice room
// right now: create an ad-hoc session, start the upcoming reservation, join
// the live session, or nothing.  Evaluate is a pure function over an
// advisory registry snapshot; the registry re-validates every actual state
// change under its own lock.
package checkin

import (
	"time"

	"github.com/iliyamo/practice-room-server/internal/session"
)

// Verdict is the outcome of an eligibility evaluation.
type Verdict string

const (
	VerdictCreatable   Verdict = "CREATABLE"
	VerdictStartable   Verdict = "STARTABLE"
	VerdictJoinable    Verdict = "JOINABLE"
	VerdictUnavailable Verdict = "UNAVAILABLE"
)

// Business constants of the check-in windows.  The windows deliberately
// overlap the way the operating rules were written: anything that matches no
// rule resolves to UNAVAILABLE.
const (
	// OpenHour and CloseHour bound room use to 10:00–22:00 local time.
	OpenHour  = 10
	CloseHour = 22
	// CreatableHorizon: with more than this much room before the next
	// reservation, an ad-hoc session may always be created.
	CreatableHorizon = 40 * time.Minute
	// StartableWindow: a roster member may start the upcoming reservation
	// once the gap to its slot drops below this.
	StartableWindow = 15 * time.Minute
	// LateStartLimit: a reservation more than this far past its slot time
	// can no longer be started manually.
	LateStartLimit = 10 * time.Minute
)

// Unavailability reasons surfaced to the client.
const (
	ReasonOutsideHours    = "practice room hours are 10:00-22:00"
	ReasonAlreadyAttended = "you are already attending this session"
	ReasonClosedSession   = "the live session is closed to new participants"
	ReasonNoWindow        = "no session can be created or started right now"
)

// Result is the evaluation outcome.  CurrentSession is set for JOINABLE,
// NextReservation for STARTABLE and (when one exists) CREATABLE, Reason for
// UNAVAILABLE.
type Result struct {
	Status          Verdict          `json:"status"`
	Reason          string           `json:"reason,omitempty"`
	CurrentSession  *session.Session `json:"currentSession,omitempty"`
	NextReservation *session.Session `json:"nextReservationSession,omitempty"`
}

// Evaluate maps (now, registry state, requesting user) to a Verdict.
//
// current and next are advisory copies of the live and next-reservation
// sessions (either may be nil); alreadyAttending is whether userID has an
// attendance record on the live session.
func Evaluate(now time.Time, loc *time.Location, current, next *session.Session, alreadyAttending bool, userID int64) Result {
	hour := now.In(loc).Hour()
	if hour < OpenHour || hour >= CloseHour {
		return Result{Status: VerdictUnavailable, Reason: ReasonOutsideHours}
	}

	if current != nil {
		if alreadyAttending {
			return Result{Status: VerdictUnavailable, Reason: ReasonAlreadyAttended}
		}
		if current.ParticipationAvailable {
			return Result{Status: VerdictJoinable, CurrentSession: current}
		}
		return Result{Status: VerdictUnavailable, Reason: ReasonClosedSession}
	}

	if next == nil {
		return Result{Status: VerdictCreatable}
	}
	startAt, err := next.StartsAt(loc)
	if err != nil {
		return Result{Status: VerdictUnavailable, Reason: ReasonNoWindow}
	}
	gap := startAt.Sub(now)

	if gap > CreatableHorizon {
		return Result{Status: VerdictCreatable, NextReservation: next}
	}
	if gap < StartableWindow && gap > -LateStartLimit && next.HasParticipator(userID) {
		return Result{Status: VerdictStartable, NextReservation: next}
	}
	// Shorter than the horizon but still clear of the startable window:
	// enough room remains to squeeze in an ad-hoc session.
	if gap >= StartableWindow {
		return Result{Status: VerdictCreatable, NextReservation: next}
	}
	return Result{Status: VerdictUnavailable, Reason: ReasonNoWindow}
}
