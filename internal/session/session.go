// Package session implements the practice-room session core: the two session
// variants (ad-hoc real-time sessions and pre-scheduled reservation
// sessions), the registry that keeps exactly one of them live at a time, and
// the snapshot codec used for crash recovery.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/practice-room-server/internal/model"
)

// Kind discriminates the two session variants.
type Kind string

const (
	KindRealtime Kind = "REALTIME"
	KindReserved Kind = "RESERVED"
)

// Status is the lifecycle state of a session.  Reservation sessions move
// BEFORE→ONAIR→AFTER or BEFORE→DISCARDED; real-time sessions are born ONAIR
// and only move to AFTER.
type Status string

const (
	StatusBefore    Status = "BEFORE"
	StatusOnAir     Status = "ONAIR"
	StatusAfter     Status = "AFTER"
	StatusDiscarded Status = "DISCARDED"
)

// ReservationType classifies where a reservation came from.  EXTERNAL
// reservations belong to outside renters: they start automatically at their
// slot time and skip attendance notifications.
type ReservationType string

const (
	ReservationRegular  ReservationType = "REGULAR"
	ReservationCommon   ReservationType = "COMMON"
	ReservationExternal ReservationType = "EXTERNAL"
)

// AttendanceStatus grades a member's attendance within a session.  Real-time
// sessions only ever use JOINED; reservation sessions use the other three.
type AttendanceStatus string

const (
	AttendanceJoined  AttendanceStatus = "JOINED"
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceLate    AttendanceStatus = "LATE"
)

// Business constants shared by the registry and its task handlers.
const (
	// ExtendStep is how much one extension adds to the end time.
	ExtendStep = 30 * time.Minute
	// AlarmLead is how long before forced termination the alarm task fires.
	AlarmLead = 10 * time.Minute
	// DiscardGrace is how long after its scheduled start an unstarted
	// reservation survives before being discarded.
	DiscardGrace = 10 * time.Minute
	// OnTimeWindow is the post-start window within which attendance is
	// graded PRESENT rather than LATE.
	OnTimeWindow = 5 * time.Minute
)

// Layouts for the minute-precision local times carried on the wire.
const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Attendance is one member's record within a session.  A member appears at
// most once; re-attending updates the record in place.
type Attendance struct {
	User      model.User       `json:"user"`
	Status    AttendanceStatus `json:"status"`
	Timestamp *time.Time       `json:"timeStamp,omitempty"`
}

// Session is the tagged-variant session record.  Identity fields
// (SessionID, Date, Kind and the variant payload) are fixed at
// construction; EndTime, ExtendCount, Status and AttendanceList mutate over
// the session's life.  All mutation goes through the Manager, which owns the
// lock; the methods below are not safe for unsynchronized concurrent use.
type Session struct {
	SessionID              string       `json:"sessionId"`
	Date                   string       `json:"date"`
	Kind                   Kind         `json:"sessionType"`
	Title                  string       `json:"title"`
	StartTime              string       `json:"startTime"`
	EndTime                string       `json:"endTime"`
	ExtendCount            int          `json:"extendCount"`
	ParticipationAvailable bool         `json:"participationAvailable"`
	Status                 Status       `json:"status"`
	AttendanceList         []Attendance `json:"attendanceList"`

	// Real-time payload.  Also set for reservation sessions that have a
	// known reserving member; nil for EXTERNAL reservations.
	Creator *model.User `json:"creator,omitempty"`

	// Reservation payload, zero-valued for real-time sessions.
	ReservationID     int64                   `json:"reservationId,omitempty"`
	ReservationType   ReservationType         `json:"reservationType,omitempty"`
	Participators     []model.User            `json:"participators,omitempty"`
	ParticipatorIDs   []int64                 `json:"participatorIds,omitempty"`
	BorrowInstruments []model.BriefInstrument `json:"borrowInstruments,omitempty"`
}

// ReservationDescriptor is the shape the daily batch loader hands to the
// registry for each of today's reservations.
type ReservationDescriptor struct {
	ReservationID          int64
	ReservationType        ReservationType
	Date                   string
	StartTime              string
	EndTime                string
	Title                  string
	ParticipationAvailable bool
	Creator                *model.User
	Participators          []model.User
	BorrowInstruments      []model.BriefInstrument
}

// NewRealtime constructs an ad-hoc session that is live immediately.  The
// creator is its first attendee with status JOINED, the time budget runs
// from now to now+budget, and the status never passes through BEFORE.
func NewRealtime(creator model.User, participationAvailable bool, now time.Time, loc *time.Location, budget time.Duration) *Session {
	local := now.In(loc)
	ts := now
	name := creator.Name
	if creator.Nickname != "" {
		name = creator.Nickname
	}
	return &Session{
		SessionID:              uuid.NewString(),
		Date:                   local.Format(dateLayout),
		Kind:                   KindRealtime,
		Title:                  fmt.Sprintf("Real-time practice by %s", name),
		StartTime:              local.Format(clockLayout),
		EndTime:                local.Add(budget).Format(clockLayout),
		ParticipationAvailable: participationAvailable,
		Status:                 StatusOnAir,
		AttendanceList:         []Attendance{{User: creator, Status: AttendanceJoined, Timestamp: &ts}},
		Creator:                &creator,
	}
}

// NewReservation constructs a scheduled session in status BEFORE.  Every
// roster member starts the day graded ABSENT; starting or attending upgrades
// the record.
func NewReservation(d ReservationDescriptor) *Session {
	attendance := make([]Attendance, 0, len(d.Participators))
	ids := make([]int64, 0, len(d.Participators))
	for _, p := range d.Participators {
		attendance = append(attendance, Attendance{User: p, Status: AttendanceAbsent})
		ids = append(ids, p.MemberID)
	}
	return &Session{
		SessionID:              uuid.NewString(),
		Date:                   d.Date,
		Kind:                   KindReserved,
		Title:                  d.Title,
		StartTime:              d.StartTime,
		EndTime:                d.EndTime,
		ParticipationAvailable: d.ParticipationAvailable,
		Status:                 StatusBefore,
		AttendanceList:         attendance,
		Creator:                d.Creator,
		ReservationID:          d.ReservationID,
		ReservationType:        d.ReservationType,
		Participators:          d.Participators,
		ParticipatorIDs:        ids,
		BorrowInstruments:      d.BorrowInstruments,
	}
}

// Start moves a reservation session BEFORE→ONAIR and rewrites StartTime to
// the actual start instant.  Starting a session in any other state returns
// ErrNotBefore.
func (s *Session) Start(now time.Time, loc *time.Location) error {
	if s.Kind != KindReserved {
		return ErrNotReservation
	}
	if s.Status != StatusBefore {
		return ErrNotBefore
	}
	s.Status = StatusOnAir
	s.StartTime = now.In(loc).Format(clockLayout)
	return nil
}

// Discard moves a reservation session BEFORE→DISCARDED.  It reports whether
// the transition happened, so a duplicate discard delivery is a visible
// no-op rather than an error.
func (s *Session) Discard() bool {
	if s.Kind != KindReserved || s.Status != StatusBefore {
		return false
	}
	s.Status = StatusDiscarded
	return true
}

// End moves ONAIR→AFTER and rewrites EndTime to the actual end instant.
// Ending a session that is not live is a contract violation.
func (s *Session) End(now time.Time, loc *time.Location) error {
	if s.Status != StatusOnAir {
		return ErrNotOnAir
	}
	s.Status = StatusAfter
	s.EndTime = now.In(loc).Format(clockLayout)
	return nil
}

// Extend adds ExtendStep to the end time of a live session and returns the
// remaining budget measured from now, which the caller uses to re-arm the
// force-end task.  Extending a session that is not live is a contract
// violation.
func (s *Session) Extend(now time.Time, loc *time.Location) (time.Duration, error) {
	if s.Status != StatusOnAir {
		return 0, ErrNotOnAir
	}
	endAt, err := s.EndsAt(loc)
	if err != nil {
		return 0, err
	}
	newEnd := endAt.Add(ExtendStep)
	// Wall-clock times carry no date, so an end past midnight cannot be
	// represented; the last extension of the day stops at 23:59.
	if eod := dayEnd(endAt, loc); newEnd.After(eod) {
		newEnd = eod
	}
	s.EndTime = newEnd.In(loc).Format(clockLayout)
	s.ExtendCount++
	return newEnd.Sub(now), nil
}

func dayEnd(ref time.Time, loc *time.Location) time.Time {
	local := ref.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 0, 0, loc)
}

// Attend records attendance for user, updating the existing record when the
// member already appears in the list.
func (s *Session) Attend(user model.User, status AttendanceStatus, now time.Time) {
	ts := now
	for i := range s.AttendanceList {
		if s.AttendanceList[i].User.MemberID == user.MemberID {
			s.AttendanceList[i].Status = status
			s.AttendanceList[i].Timestamp = &ts
			return
		}
	}
	s.AttendanceList = append(s.AttendanceList, Attendance{User: user, Status: status, Timestamp: &ts})
}

// HasAttendee reports whether memberID already has an attendance record with
// a status other than ABSENT (an untouched roster default does not count as
// attending).
func (s *Session) HasAttendee(memberID int64) bool {
	for _, a := range s.AttendanceList {
		if a.User.MemberID == memberID && a.Status != AttendanceAbsent {
			return true
		}
	}
	return false
}

// HasParticipator reports whether memberID is on the reservation roster.
func (s *Session) HasParticipator(memberID int64) bool {
	for _, id := range s.ParticipatorIDs {
		if id == memberID {
			return true
		}
	}
	return false
}

// StartsAt resolves the session's date and start time in loc.
func (s *Session) StartsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout+" "+clockLayout, s.Date+" "+s.StartTime, loc)
}

// EndsAt resolves the session's date and end time in loc.
func (s *Session) EndsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout+" "+clockLayout, s.Date+" "+s.EndTime, loc)
}

// Remaining is the budget left before forced termination, negative once the
// end time has passed.
func (s *Session) Remaining(now time.Time, loc *time.Location) (time.Duration, error) {
	endAt, err := s.EndsAt(loc)
	if err != nil {
		return 0, err
	}
	return endAt.Sub(now), nil
}

// Clone returns an independent copy.  Registry reads hand out clones so that
// advisory reads never race with mutations under the registry lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	dup.AttendanceList = append([]Attendance(nil), s.AttendanceList...)
	dup.Participators = append([]model.User(nil), s.Participators...)
	dup.ParticipatorIDs = append([]int64(nil), s.ParticipatorIDs...)
	dup.BorrowInstruments = append([]model.BriefInstrument(nil), s.BorrowInstruments...)
	if s.Creator != nil {
		c := *s.Creator
		dup.Creator = &c
	}
	return &dup
}
