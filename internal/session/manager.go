package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/practice-room-server/internal/clock"
	"github.com/iliyamo/practice-room-server/internal/model"
	"github.com/iliyamo/practice-room-server/internal/scheduler"
	"github.com/iliyamo/practice-room-server/internal/snapshot"
)

// ioTimeout bounds every scheduler and snapshot call made while (or right
// after) holding the registry lock, so external latency can never pin the
// lock.
const ioTimeout = 2 * time.Second

// publishBuffer is the depth of the ordered publish queue between mutations
// and the snapshot/broadcast consumer.
const publishBuffer = 256

// Manager is the sole owner of today's session list.  Every state-changing
// operation serializes through one mutex, which is what upholds the
// single-occupancy invariant against interleaved check-ins, admin actions
// and scheduler callbacks.  After each mutation the full list is pushed, in
// mutation order, to a single publisher goroutine that writes the snapshot
// store and fans the state-changed signal out to subscribers, so consumers
// only ever observe fully applied mutations.
type Manager struct {
	clk   clock.Clock
	loc   *time.Location
	basic time.Duration // time budget of a fresh real-time session

	sched scheduler.Scheduler
	store snapshot.Store

	mu                sync.Mutex
	sessions          []*Session
	nextReservationID string // earliest RESERVED session still BEFORE, "" if none

	publishCh chan publishItem

	subsMu sync.RWMutex
	subs   []func(list []byte)
}

type publishItem struct {
	snapshot  []byte
	broadcast []byte
}

// NewManager builds an empty registry.  Call Start before the first
// mutation so snapshots and signals drain.
func NewManager(clk clock.Clock, loc *time.Location, basic time.Duration, sched scheduler.Scheduler, store snapshot.Store) *Manager {
	return &Manager{
		clk:       clk,
		loc:       loc,
		basic:     basic,
		sched:     sched,
		store:     store,
		publishCh: make(chan publishItem, publishBuffer),
	}
}

// Subscribe registers a state-changed consumer.  The callback receives the
// broadcast JSON of the full session list and runs on the publisher
// goroutine; it must not block for long.
func (m *Manager) Subscribe(fn func(list []byte)) {
	m.subsMu.Lock()
	m.subs = append(m.subs, fn)
	m.subsMu.Unlock()
}

// Start launches the publisher goroutine.  It returns immediately and stops
// when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case item := <-m.publishCh:
				sctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
				if err := m.store.Save(sctx, item.snapshot); err != nil {
					log.Printf("session: snapshot write failed: %v", err)
				}
				cancel()
				m.subsMu.RLock()
				subs := m.subs
				m.subsMu.RUnlock()
				for _, fn := range subs {
					fn(item.broadcast)
				}
			}
		}
	}()
}

// encodeLocked marshals both wire forms of the current list.  Caller holds
// the lock.
func (m *Manager) encodeLocked() publishItem {
	snap, err := EncodeList(m.sessions)
	if err != nil {
		log.Printf("session: encode snapshot failed: %v", err)
	}
	cast, err := MarshalList(m.sessions)
	if err != nil {
		log.Printf("session: encode broadcast failed: %v", err)
	}
	return publishItem{snapshot: snap, broadcast: cast}
}

// mutate runs fn under the registry lock.  When fn reports a change the
// serialized list is enqueued for the publisher after the lock is released,
// preserving the order of mutations.
func (m *Manager) mutate(fn func() (changed bool, err error)) error {
	m.mu.Lock()
	changed, err := fn()
	var item publishItem
	if changed {
		item = m.encodeLocked()
	}
	m.mu.Unlock()
	if changed {
		m.publishCh <- item
	}
	return err
}

// currentLocked returns the ONAIR session, nil when the room is free.
func (m *Manager) currentLocked() *Session {
	for _, s := range m.sessions {
		if s.Status == StatusOnAir {
			return s
		}
	}
	return nil
}

// reloadNextReservationLocked recomputes the pointer to the earliest
// reservation session still waiting in BEFORE.
func (m *Manager) reloadNextReservationLocked() {
	m.nextReservationID = ""
	for _, s := range m.sessions {
		if s.Kind == KindReserved && s.Status == StatusBefore {
			m.nextReservationID = s.SessionID
			return
		}
	}
}

// findLocked returns the session with the given id, nil when absent.
func (m *Manager) findLocked(id string) *Session {
	if id == "" {
		return nil
	}
	for _, s := range m.sessions {
		if s.SessionID == id {
			return s
		}
	}
	return nil
}

func (m *Manager) schedule(kind scheduler.TaskKind, key string, due time.Time, s *Session) {
	payload, err := MarshalList([]*Session{s})
	if err != nil {
		log.Printf("session: marshal task payload failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := m.sched.Schedule(ctx, scheduler.Task{Key: key, Kind: kind, Due: due, Payload: payload}); err != nil {
		log.Printf("session: arm %s task for %s failed: %v", kind, s.SessionID, err)
	}
}

func (m *Manager) cancelTask(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := m.sched.Cancel(ctx, key); err != nil {
		log.Printf("session: cancel task %s failed: %v", key, err)
	}
}

// armTermination arms the force-end task at due and, unless the session is
// an EXTERNAL reservation, the alarm task AlarmLead earlier.  Stale tasks
// under the same keys are replaced.
func (m *Manager) armTermination(s *Session, due time.Time) {
	m.schedule(scheduler.TaskForceEnd, scheduler.ForceEndKey(s.SessionID), due, s)
	if s.Kind == KindReserved && s.ReservationType == ReservationExternal {
		return
	}
	m.schedule(scheduler.TaskForceEndAlarm, scheduler.AlarmKey(s.SessionID), due.Add(-AlarmLead), s)
}

// AddReservationSessions bulk-inserts today's reservation sessions, usually
// at the midnight rollover.  Reservations are kept in non-decreasing start
// order, the next-reservation pointer is recomputed, EXTERNAL reservations
// get an auto-start task at their slot time and every other reservation
// gets a discard task at start+grace.
func (m *Manager) AddReservationSessions(descriptors []ReservationDescriptor) error {
	now := m.clk.Now()
	return m.mutate(func() (bool, error) {
		sorted := append([]ReservationDescriptor(nil), descriptors...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })
		for _, d := range sorted {
			s := NewReservation(d)
			m.sessions = append(m.sessions, s)
			m.armPendingReservation(s, now)
		}
		m.reloadNextReservationLocked()
		return len(sorted) > 0, nil
	})
}

// armPendingReservation arms the lifecycle task of a reservation still in
// BEFORE: auto-start for EXTERNAL slots, discard-on-grace for the rest.  A
// stale task under the same key is cancelled first; slots whose window has
// already fully passed get no task.
func (m *Manager) armPendingReservation(s *Session, now time.Time) {
	if s.Kind != KindReserved || s.Status != StatusBefore {
		return
	}
	startAt, err := s.StartsAt(m.loc)
	if err != nil {
		log.Printf("session: reservation %s has invalid start %q: %v", s.SessionID, s.StartTime, err)
		return
	}
	if s.ReservationType == ReservationExternal {
		m.cancelTask(scheduler.AutoStartKey(s.SessionID))
		if startAt.After(now) {
			m.schedule(scheduler.TaskAutoStart, scheduler.AutoStartKey(s.SessionID), startAt, s)
		}
		return
	}
	m.cancelTask(scheduler.DiscardKey(s.SessionID))
	due := startAt.Add(DiscardGrace)
	if due.After(now) {
		m.schedule(scheduler.TaskDiscard, scheduler.DiscardKey(s.SessionID), due, s)
	}
}

// StartRealtimeSession creates an ad-hoc session for creator, live
// immediately with the configured time budget.  The new session is inserted
// directly before the next pending reservation so chronological display
// order holds, and force-end/alarm tasks are armed.  Returns ErrOccupied
// when a session is already live.
func (m *Manager) StartRealtimeSession(creator model.User, participationAvailable bool) (*Session, error) {
	now := m.clk.Now()
	var started *Session
	err := m.mutate(func() (bool, error) {
		if m.currentLocked() != nil {
			return false, ErrOccupied
		}
		s := NewRealtime(creator, participationAvailable, now, m.loc, m.basic)
		at := len(m.sessions)
		for i, existing := range m.sessions {
			if existing.SessionID == m.nextReservationID {
				at = i
				break
			}
		}
		m.sessions = append(m.sessions, nil)
		copy(m.sessions[at+1:], m.sessions[at:])
		m.sessions[at] = s
		m.armTermination(s, now.Add(m.basic))
		started = s.Clone()
		return true, nil
	})
	return started, err
}

// StartReservationSession transitions the next pending reservation
// BEFORE→ONAIR on behalf of starter, who is graded PRESENT.  The discard
// task is dropped, termination tasks are armed against the reservation's
// end time and the next-reservation pointer moves on.
func (m *Manager) StartReservationSession(starter model.User) (*Session, error) {
	now := m.clk.Now()
	var started *Session
	err := m.mutate(func() (bool, error) {
		if m.currentLocked() != nil {
			return false, ErrOccupied
		}
		s := m.findLocked(m.nextReservationID)
		if s == nil {
			return false, ErrNoPendingReservation
		}
		if err := s.Start(now, m.loc); err != nil {
			return false, err
		}
		s.Attend(starter, AttendancePresent, now)
		m.cancelTask(scheduler.DiscardKey(s.SessionID))
		endAt, err := s.EndsAt(m.loc)
		if err != nil {
			return true, err
		}
		m.armTermination(s, endAt)
		m.reloadNextReservationLocked()
		started = s.Clone()
		return true, nil
	})
	return started, err
}

// StartExternalReservation is the auto-start scheduler callback for
// EXTERNAL reservations.  Deliveries are at least once: a pointer that
// moved on, a session no longer BEFORE or an occupied room all resolve to a
// logged no-op.
func (m *Manager) StartExternalReservation() error {
	now := m.clk.Now()
	return m.mutate(func() (bool, error) {
		s := m.findLocked(m.nextReservationID)
		if s == nil || s.ReservationType != ReservationExternal || s.Status != StatusBefore {
			log.Printf("session: stale external auto-start delivery ignored")
			return false, nil
		}
		if m.currentLocked() != nil {
			log.Printf("session: external reservation %s auto-start skipped, room occupied", s.SessionID)
			return false, nil
		}
		if err := s.Start(now, m.loc); err != nil {
			return false, nil
		}
		endAt, err := s.EndsAt(m.loc)
		if err != nil {
			return true, err
		}
		m.armTermination(s, endAt)
		m.reloadNextReservationLocked()
		return true, nil
	})
}

// AttendToSession records attendance for user on the live session.  For a
// real-time session the status is always JOINED; for a reservation the
// grade is PRESENT within OnTimeWindow of the session's start and LATE
// afterwards.  Returns false when no session is live, which is a benign
// race rather than an error.
func (m *Manager) AttendToSession(user model.User) (AttendanceStatus, bool) {
	now := m.clk.Now()
	var status AttendanceStatus
	var ok bool
	_ = m.mutate(func() (bool, error) {
		cur := m.currentLocked()
		if cur == nil {
			return false, nil
		}
		if cur.Kind == KindRealtime {
			status = AttendanceJoined
		} else {
			startAt, err := cur.StartsAt(m.loc)
			if err == nil && now.Sub(startAt) <= OnTimeWindow {
				status = AttendancePresent
			} else {
				status = AttendanceLate
			}
		}
		cur.Attend(user, status, now)
		ok = true
		return true, nil
	})
	return status, ok
}

// ExtendSession adds ExtendStep to the live session's budget and replaces
// the force-end and alarm tasks against the new end time.  Returns
// (nil, nil) when no session is live.
func (m *Manager) ExtendSession() (*Session, error) {
	now := m.clk.Now()
	var extended *Session
	err := m.mutate(func() (bool, error) {
		cur := m.currentLocked()
		if cur == nil {
			log.Printf("session: extend requested with no live session")
			return false, nil
		}
		remaining, err := cur.Extend(now, m.loc)
		if err != nil {
			return false, err
		}
		m.cancelTask(scheduler.ForceEndKey(cur.SessionID))
		m.cancelTask(scheduler.AlarmKey(cur.SessionID))
		m.armTermination(cur, now.Add(remaining))
		extended = cur.Clone()
		return true, nil
	})
	return extended, err
}

// EndSession terminates the live session voluntarily, cancelling its
// pending termination tasks, and returns the finalized session for external
// persistence.  Returns (nil, nil) when no session is live.
func (m *Manager) EndSession() (*Session, error) {
	now := m.clk.Now()
	var ended *Session
	err := m.mutate(func() (bool, error) {
		cur := m.currentLocked()
		if cur == nil {
			log.Printf("session: end requested with no live session")
			return false, nil
		}
		if err := cur.End(now, m.loc); err != nil {
			return false, err
		}
		m.cancelTask(scheduler.ForceEndKey(cur.SessionID))
		m.cancelTask(scheduler.AlarmKey(cur.SessionID))
		ended = cur.Clone()
		return true, nil
	})
	return ended, err
}

// ForceEndSession is the force-end scheduler callback.  It ends the live
// session without touching the task store (the triggering task is the one
// executing) and returns the finalized session.  A duplicate delivery finds
// no live session and no-ops.
func (m *Manager) ForceEndSession() (*Session, bool) {
	now := m.clk.Now()
	var ended *Session
	_ = m.mutate(func() (bool, error) {
		cur := m.currentLocked()
		if cur == nil {
			return false, nil
		}
		if err := cur.End(now, m.loc); err != nil {
			return false, nil
		}
		ended = cur.Clone()
		return true, nil
	})
	return ended, ended != nil
}

// DiscardUnstartedSession is the discard scheduler callback.  It discards
// the named reservation when it is still BEFORE and reloads the pointer.
// The lookup is by the fired task's session id, never by the pointer, so a
// redelivered discard for an already-resolved session cannot reach the next
// pending reservation.  Any other registry state (already started, already
// discarded, unknown id) is a no-op.
func (m *Manager) DiscardUnstartedSession(sessionID string) (*Session, bool) {
	var discarded *Session
	_ = m.mutate(func() (bool, error) {
		s := m.findLocked(sessionID)
		if s == nil || !s.Discard() {
			return false, nil
		}
		m.reloadNextReservationLocked()
		discarded = s.Clone()
		return true, nil
	})
	return discarded, discarded != nil
}

// ClearSessions empties the registry at day rollover.
func (m *Manager) ClearSessions() {
	_ = m.mutate(func() (bool, error) {
		if len(m.sessions) == 0 && m.nextReservationID == "" {
			return false, nil
		}
		m.sessions = nil
		m.nextReservationID = ""
		return true, nil
	})
}

// CurrentSession returns a copy of the live session, nil when the room is
// free.  Reads are advisory: callers deciding a mutation from them must let
// the mutating operation re-validate under the lock.
func (m *Manager) CurrentSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked().Clone()
}

// NextReservationSession returns a copy of the earliest reservation still
// in BEFORE, nil when none remains.
func (m *Manager) NextReservationSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(m.nextReservationID).Clone()
}

// Sessions returns copies of today's full ordered list.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, len(m.sessions))
	for i, s := range m.sessions {
		out[i] = s.Clone()
	}
	return out
}

// SessionListJSON returns the broadcast JSON of the full list, for
// consumers that answer client fetches directly.
func (m *Manager) SessionListJSON() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := MarshalList(m.sessions)
	if err != nil {
		log.Printf("session: encode list failed: %v", err)
		return []byte("[]")
	}
	return b
}

// IsAlreadyAttending reports whether memberID has attended (or joined) the
// live session.  An untouched ABSENT roster default does not count.
func (m *Manager) IsAlreadyAttending(memberID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.currentLocked()
	return cur != nil && cur.HasAttendee(memberID)
}

// Restore rebuilds the registry from the cache snapshot at boot.  A missing
// or unreadable snapshot is a cold start, not a failure.  Sessions still in
// BEFORE get their lifecycle tasks re-armed; for each ONAIR session the
// force-end task is probed in the scheduler and re-armed from the remaining
// end-time budget only when it did not survive, so forced termination fires
// exactly once across the restart.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	blob, err := m.store.Load(ctx)
	if errors.Is(err, snapshot.ErrNotFound) {
		log.Printf("session: no snapshot found, cold start")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	restored, err := DecodeList(blob)
	if err != nil {
		log.Printf("session: snapshot unreadable, cold start: %v", err)
		return false, nil
	}
	now := m.clk.Now()
	merr := m.mutate(func() (bool, error) {
		m.sessions = restored
		m.reloadNextReservationLocked()
		for _, s := range m.sessions {
			switch s.Status {
			case StatusBefore:
				m.armPendingReservation(s, now)
			case StatusOnAir:
				ectx, cancel := context.WithTimeout(context.Background(), ioTimeout)
				exists, err := m.sched.Exists(ectx, scheduler.ForceEndKey(s.SessionID))
				cancel()
				if err != nil {
					log.Printf("session: probe force-end task for %s failed: %v", s.SessionID, err)
					continue
				}
				if exists {
					continue
				}
				endAt, err := s.EndsAt(m.loc)
				if err != nil {
					log.Printf("session: restored session %s has invalid end %q: %v", s.SessionID, s.EndTime, err)
					continue
				}
				if endAt.Before(now) {
					endAt = now
				}
				m.schedule(scheduler.TaskForceEnd, scheduler.ForceEndKey(s.SessionID), endAt, s)
			}
		}
		return true, nil
	})
	if merr != nil {
		return true, merr
	}
	log.Printf("session: restored %d session(s) from snapshot", len(restored))
	return true, nil
}
