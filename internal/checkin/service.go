package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/practice-room-server/internal/clock"
	"github.com/iliyamo/practice-room-server/internal/model"
	"github.com/iliyamo/practice-room-server/internal/session"
)

// ErrNotEligible is returned when a check-in attempt does not match any
// start rule at the moment the mutation is applied.
var ErrNotEligible = errors.New("checkin: not eligible to start a session")

// ErrNoLiveSession is returned when attendance is requested while the room
// is free.
var ErrNoLiveSession = errors.New("checkin: no live session")

// ErrNotAllowed is returned when a user may not join the live session.
var ErrNotAllowed = errors.New("checkin: not allowed to join this session")

// MemberDirectory resolves member ids to their display information.  The
// member store is external; this is the only view of it the session core
// needs.
type MemberDirectory interface {
	GetByID(ctx context.Context, memberID int64) (model.User, error)
}

// StartOutcome reports which start rule a successful check-in matched.
type StartOutcome string

const (
	// OutcomeCreated means a new real-time session was created.
	OutcomeCreated StartOutcome = "created"
	// OutcomeStarted means the upcoming reservation session was started.
	OutcomeStarted StartOutcome = "started"
)

// Service wires the pure eligibility rules to the member directory and the
// session registry.
type Service struct {
	members MemberDirectory
	manager *session.Manager
	clk     clock.Clock
	loc     *time.Location
}

// NewService constructs a check-in service.
func NewService(members MemberDirectory, manager *session.Manager, clk clock.Clock, loc *time.Location) *Service {
	return &Service{members: members, manager: manager, clk: clk, loc: loc}
}

// Status evaluates eligibility for userID against the current registry
// state.  The result is advisory; TryStart re-validates before mutating.
func (s *Service) Status(userID int64) Result {
	return Evaluate(
		s.clk.Now(), s.loc,
		s.manager.CurrentSession(),
		s.manager.NextReservationSession(),
		s.manager.IsAlreadyAttending(userID),
		userID,
	)
}

// TryStart performs a check-in: depending on the window it either creates a
// real-time session owned by the user or starts the upcoming reservation
// with the user graded PRESENT.  The registry re-checks the single-occupancy
// invariant under its lock, so two racing check-ins cannot both succeed.
func (s *Service) TryStart(ctx context.Context, userID int64, participationAvailable bool) (StartOutcome, error) {
	user, err := s.members.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load member %d: %w", userID, err)
	}
	verdict := s.Status(userID)
	switch verdict.Status {
	case VerdictCreatable:
		if _, err := s.manager.StartRealtimeSession(user, participationAvailable); err != nil {
			if errors.Is(err, session.ErrOccupied) {
				return "", ErrNotEligible
			}
			return "", err
		}
		return OutcomeCreated, nil
	case VerdictStartable:
		if _, err := s.manager.StartReservationSession(user); err != nil {
			if errors.Is(err, session.ErrOccupied) || errors.Is(err, session.ErrNoPendingReservation) {
				return "", ErrNotEligible
			}
			return "", err
		}
		return OutcomeStarted, nil
	default:
		return "", ErrNotEligible
	}
}

// Attend records the user's attendance on the live session.  Joining is
// allowed for roster members and, when the session is open, for anyone.
func (s *Service) Attend(ctx context.Context, userID int64) (session.AttendanceStatus, error) {
	cur := s.manager.CurrentSession()
	if cur == nil {
		return "", ErrNoLiveSession
	}
	if !cur.ParticipationAvailable && !cur.HasParticipator(userID) {
		return "", ErrNotAllowed
	}
	user, err := s.members.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load member %d: %w", userID, err)
	}
	status, ok := s.manager.AttendToSession(user)
	if !ok {
		// The session ended between the advisory read and the mutation.
		return "", ErrNoLiveSession
	}
	return status, nil
}
