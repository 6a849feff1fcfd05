// Package processor binds the delayed task kinds to their registry
// callbacks and notification fan-out.  Every handler is idempotent: truth
// is re-read from the live registry on each delivery, and a stale or
// duplicate task resolves to a no-op.  Task payloads feed notification
// content only.
package processor

import (
	"context"
	"fmt"
	"log"

	"github.com/iliyamo/practice-room-server/internal/notify"
	"github.com/iliyamo/practice-room-server/internal/scheduler"
	"github.com/iliyamo/practice-room-server/internal/session"
	"github.com/iliyamo/practice-room-server/internal/sessionlog"
)

// Processor handles fired scheduler tasks.
type Processor struct {
	manager   *session.Manager
	finalizer *sessionlog.Finalizer
	notifier  notify.Notifier
}

// New constructs a Processor.
func New(manager *session.Manager, finalizer *sessionlog.Finalizer, notifier notify.Notifier) *Processor {
	return &Processor{manager: manager, finalizer: finalizer, notifier: notifier}
}

// Register binds the handlers onto sched.  Call before the scheduler starts
// dispatching.
func (p *Processor) Register(sched scheduler.Scheduler) {
	sched.Register(scheduler.TaskForceEnd, p.handleForceEnd)
	sched.Register(scheduler.TaskForceEndAlarm, p.handleForceEndAlarm)
	sched.Register(scheduler.TaskDiscard, p.handleDiscard)
	sched.Register(scheduler.TaskAutoStart, p.handleAutoStart)
}

func (p *Processor) handleForceEnd(ctx context.Context, _ scheduler.Task) error {
	ended, ok := p.manager.ForceEndSession()
	if !ok {
		// The occupants ended (or extended and re-keyed) before the task
		// fired, or this is a duplicate delivery.
		return nil
	}
	log.Printf("processor: force-ended session %s", ended.SessionID)
	p.finalizer.Finalize(ctx, session.Finalized{Session: ended, ForceEnd: true})

	if externalReservation(ended) {
		return nil
	}
	return p.notifier.Push(ctx, notify.Message{
		To:    attendeeIDs(ended, false),
		Title: "Practice room notice",
		Body:  fmt.Sprintf("%s was ended because its time budget ran out. Please keep to the schedule next time.", shortTitle(ended)),
	})
}

func (p *Processor) handleForceEndAlarm(ctx context.Context, _ scheduler.Task) error {
	cur := p.manager.CurrentSession()
	if cur == nil || externalReservation(cur) {
		return nil
	}
	return p.notifier.Push(ctx, notify.Message{
		To:    attendeeIDs(cur, true),
		Title: "Practice room notice",
		Body:  fmt.Sprintf("%s ends in 10 minutes. Tidy up and take the cleanup photos before it is force-ended.", shortTitle(cur)),
	})
}

func (p *Processor) handleDiscard(ctx context.Context, task scheduler.Task) error {
	discarded, ok := p.manager.DiscardUnstartedSession(scheduler.SessionIDFromKey(task.Key))
	if !ok {
		return nil
	}
	log.Printf("processor: discarded unstarted session %s", discarded.SessionID)
	p.finalizer.Finalize(ctx, session.Finalized{Session: discarded})

	return p.notifier.Push(ctx, notify.Message{
		To:    rosterIDs(discarded),
		Title: "Practice cancelled",
		Body:  fmt.Sprintf("%s was cancelled because it was not started in time. Please keep to the start time next time.", shortTitle(discarded)),
	})
}

func (p *Processor) handleAutoStart(_ context.Context, _ scheduler.Task) error {
	return p.manager.StartExternalReservation()
}

func externalReservation(s *session.Session) bool {
	return s.Kind == session.KindReserved && s.ReservationType == session.ReservationExternal
}

// attendeeIDs collects recipients from the attendance list.  With
// presentOnly set, members still graded ABSENT are skipped.
func attendeeIDs(s *session.Session, presentOnly bool) []int64 {
	var ids []int64
	for _, a := range s.AttendanceList {
		if presentOnly && a.Status == session.AttendanceAbsent {
			continue
		}
		ids = append(ids, a.User.MemberID)
	}
	return ids
}

func rosterIDs(s *session.Session) []int64 {
	return append([]int64(nil), s.ParticipatorIDs...)
}

func shortTitle(s *session.Session) string {
	title := []rune(s.Title)
	if len(title) > 10 {
		return string(title[:10]) + "..."
	}
	return s.Title
}
