package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/practice-room-server/internal/clock"
	"github.com/iliyamo/practice-room-server/internal/scheduler"
	"github.com/iliyamo/practice-room-server/internal/snapshot"
)

// fakeScheduler records armed tasks and lets tests fire them by hand.
type fakeScheduler struct {
	mu       sync.Mutex
	tasks    map[string]scheduler.Task
	handlers map[scheduler.TaskKind]scheduler.Handler
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		tasks:    make(map[string]scheduler.Task),
		handlers: make(map[scheduler.TaskKind]scheduler.Handler),
	}
}

func (f *fakeScheduler) Schedule(_ context.Context, task scheduler.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.Key] = task
	return nil
}

func (f *fakeScheduler) Cancel(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, key)
	return nil
}

func (f *fakeScheduler) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[key]
	return ok, nil
}

func (f *fakeScheduler) Register(kind scheduler.TaskKind, h scheduler.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = h
}

func (f *fakeScheduler) task(t *testing.T, key string) scheduler.Task {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[key]
	if !ok {
		t.Fatalf("no task armed under key %q (have %v)", key, f.keysLocked())
	}
	return task
}

func (f *fakeScheduler) armed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[key]
	return ok
}

func (f *fakeScheduler) keysLocked() []string {
	keys := make([]string, 0, len(f.tasks))
	for k := range f.tasks {
		keys = append(keys, k)
	}
	return keys
}

const testBasic = time.Hour

func newTestManager(t *testing.T, start string) (*Manager, *fakeScheduler, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(at(t, start))
	sched := newFakeScheduler()
	return NewManager(clk, seoul, testBasic, sched, snapshot.NewMemory()), sched, clk
}

func regularDescriptor(start, end string, participators ...int64) ReservationDescriptor {
	d := ReservationDescriptor{
		ReservationID:          100,
		ReservationType:        ReservationRegular,
		Date:                   "2026-09-01",
		StartTime:              start,
		EndTime:                end,
		Title:                  "ensemble practice",
		ParticipationAvailable: true,
	}
	for _, id := range participators {
		d.Participators = append(d.Participators, member(id, "m"))
	}
	return d
}

func TestSingleSessionOnAir(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 14:00")

	if _, err := m.StartRealtimeSession(member(1, "a"), true); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := m.StartRealtimeSession(member(2, "b"), true); err != ErrOccupied {
		t.Fatalf("second start = %v, want ErrOccupied", err)
	}
	if err := m.AddReservationSessions([]ReservationDescriptor{regularDescriptor("14:05", "15:00", 2)}); err != nil {
		t.Fatalf("add reservations: %v", err)
	}
	if _, err := m.StartReservationSession(member(2, "b")); err != ErrOccupied {
		t.Fatalf("reservation start with live session = %v, want ErrOccupied", err)
	}
}

func TestStartRealtimeArmsTermination(t *testing.T) {
	m, sched, _ := newTestManager(t, "2026-09-01 14:00")

	s, err := m.StartRealtimeSession(member(1, "a"), true)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	forceEnd := sched.task(t, scheduler.ForceEndKey(s.SessionID))
	if !forceEnd.Due.Equal(at(t, "2026-09-01 15:00")) {
		t.Errorf("force-end due %v, want 15:00", forceEnd.Due)
	}
	alarm := sched.task(t, scheduler.AlarmKey(s.SessionID))
	if !alarm.Due.Equal(at(t, "2026-09-01 14:50")) {
		t.Errorf("alarm due %v, want 14:50", alarm.Due)
	}
}

func TestRealtimeInsertsBeforePendingReservation(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 14:00")

	if err := m.AddReservationSessions([]ReservationDescriptor{regularDescriptor("18:00", "20:00", 2)}); err != nil {
		t.Fatalf("add reservations: %v", err)
	}
	if _, err := m.StartRealtimeSession(member(1, "a"), true); err != nil {
		t.Fatalf("start: %v", err)
	}

	list := m.Sessions()
	if len(list) != 2 {
		t.Fatalf("list has %d sessions, want 2", len(list))
	}
	if list[0].Kind != KindRealtime || list[1].Kind != KindReserved {
		t.Errorf("realtime session not inserted before pending reservation: %s, %s", list[0].Kind, list[1].Kind)
	}
}

func TestAddReservationsSortsAndArms(t *testing.T) {
	m, sched, _ := newTestManager(t, "2026-09-01 09:00")

	external := regularDescriptor("12:00", "13:00")
	external.ReservationType = ReservationExternal
	if err := m.AddReservationSessions([]ReservationDescriptor{
		regularDescriptor("18:00", "20:00", 2),
		external,
		regularDescriptor("14:00", "15:00", 3),
	}); err != nil {
		t.Fatalf("add reservations: %v", err)
	}

	list := m.Sessions()
	if list[0].StartTime != "12:00" || list[1].StartTime != "14:00" || list[2].StartTime != "18:00" {
		t.Fatalf("not sorted by start: %s %s %s", list[0].StartTime, list[1].StartTime, list[2].StartTime)
	}

	// The external slot auto-starts at its time; the others get a discard
	// task at start+grace.
	auto := sched.task(t, scheduler.AutoStartKey(list[0].SessionID))
	if !auto.Due.Equal(at(t, "2026-09-01 12:00")) {
		t.Errorf("auto-start due %v, want 12:00", auto.Due)
	}
	discard := sched.task(t, scheduler.DiscardKey(list[1].SessionID))
	if !discard.Due.Equal(at(t, "2026-09-01 14:10")) {
		t.Errorf("discard due %v, want 14:10", discard.Due)
	}

	next := m.NextReservationSession()
	if next == nil || next.SessionID != list[0].SessionID {
		t.Errorf("next reservation pointer wrong: %+v", next)
	}
}

func TestStartReservationSession(t *testing.T) {
	m, sched, _ := newTestManager(t, "2026-09-01 17:55")

	if err := m.AddReservationSessions([]ReservationDescriptor{regularDescriptor("18:00", "20:00", 2, 3)}); err != nil {
		t.Fatalf("add reservations: %v", err)
	}
	pending := m.NextReservationSession()

	s, err := m.StartReservationSession(member(2, "b"))
	if err != nil {
		t.Fatalf("start reservation: %v", err)
	}
	if s.Status != StatusOnAir || s.StartTime != "17:55" {
		t.Errorf("started session status=%s start=%s", s.Status, s.StartTime)
	}
	if !s.HasAttendee(2) {
		t.Errorf("starter not graded as attending")
	}
	if sched.armed(scheduler.DiscardKey(pending.SessionID)) {
		t.Errorf("discard task survived the start")
	}
	forceEnd := sched.task(t, scheduler.ForceEndKey(pending.SessionID))
	if !forceEnd.Due.Equal(at(t, "2026-09-01 20:00")) {
		t.Errorf("force-end due %v, want 20:00", forceEnd.Due)
	}
	if m.NextReservationSession() != nil {
		t.Errorf("pointer should have advanced past the started reservation")
	}

	if _, err := m.StartReservationSession(member(3, "c")); err != ErrOccupied {
		t.Errorf("start while live = %v, want ErrOccupied", err)
	}
}

func TestStartReservationWithoutPending(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 14:00")
	if _, err := m.StartReservationSession(member(1, "a")); err != ErrNoPendingReservation {
		t.Fatalf("err = %v, want ErrNoPendingReservation", err)
	}
}

func TestStartExternalReservationIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 11:59")

	external := regularDescriptor("12:00", "13:00")
	external.ReservationType = ReservationExternal
	if err := m.AddReservationSessions([]ReservationDescriptor{external}); err != nil {
		t.Fatalf("add reservations: %v", err)
	}

	if err := m.StartExternalReservation(); err != nil {
		t.Fatalf("auto-start: %v", err)
	}
	cur := m.CurrentSession()
	if cur == nil || cur.ReservationType != ReservationExternal {
		t.Fatalf("external reservation not live: %+v", cur)
	}

	// Duplicate delivery lands after the pointer moved on.
	if err := m.StartExternalReservation(); err != nil {
		t.Fatalf("duplicate auto-start: %v", err)
	}
	if got := m.CurrentSession(); got.SessionID != cur.SessionID {
		t.Errorf("duplicate delivery disturbed the live session")
	}
}

func TestAttendGrading(t *testing.T) {
	t.Run("realtime joins", func(t *testing.T) {
		m, _, _ := newTestManager(t, "2026-09-01 14:00")
		if _, err := m.StartRealtimeSession(member(1, "a"), true); err != nil {
			t.Fatalf("start: %v", err)
		}
		status, ok := m.AttendToSession(member(2, "b"))
		if !ok || status != AttendanceJoined {
			t.Errorf("got (%s, %v), want (JOINED, true)", status, ok)
		}
	})

	t.Run("reservation on time", func(t *testing.T) {
		m, _, clk := newTestManager(t, "2026-09-01 18:00")
		if err := m.AddReservationSessions([]ReservationDescriptor{regularDescriptor("18:00", "20:00", 2, 3)}); err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := m.StartReservationSession(member(2, "b")); err != nil {
			t.Fatalf("start: %v", err)
		}
		clk.Advance(4 * time.Minute)
		status, ok := m.AttendToSession(member(3, "c"))
		if !ok || status != AttendancePresent {
			t.Errorf("got (%s, %v), want (PRESENT, true)", status, ok)
		}
	})

	t.Run("reservation late", func(t *testing.T) {
		m, _, clk := newTestManager(t, "2026-09-01 18:00")
		if err := m.AddReservationSessions([]ReservationDescriptor{regularDescriptor("18:00", "20:00", 2, 3)}); err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := m.StartReservationSession(member(2, "b")); err != nil {
			t.Fatalf("start: %v", err)
		}
		clk.Advance(6 * time.Minute)
		status, ok := m.AttendToSession(member(3, "c"))
		if !ok || status != AttendanceLate {
			t.Errorf("got (%s, %v), want (LATE, true)", status, ok)
		}
	})

	t.Run("no live session", func(t *testing.T) {
		m, _, _ := newTestManager(t, "2026-09-01 14:00")
		if _, ok := m.AttendToSession(member(2, "b")); ok {
			t.Errorf("attend with empty room reported ok")
		}
	})
}

func TestExtendSessionReArmsTermination(t *testing.T) {
	m, sched, clk := newTestManager(t, "2026-09-01 14:00")

	s, err := m.StartRealtimeSession(member(1, "a"), true)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(50 * time.Minute)

	extended, err := m.ExtendSession()
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if extended.EndTime != "15:30" || extended.ExtendCount != 1 {
		t.Errorf("extended end=%s count=%d, want 15:30/1", extended.EndTime, extended.ExtendCount)
	}
	forceEnd := sched.task(t, scheduler.ForceEndKey(s.SessionID))
	if !forceEnd.Due.Equal(at(t, "2026-09-01 15:30")) {
		t.Errorf("force-end due %v, want 15:30", forceEnd.Due)
	}
	alarm := sched.task(t, scheduler.AlarmKey(s.SessionID))
	if !alarm.Due.Equal(at(t, "2026-09-01 15:20")) {
		t.Errorf("alarm due %v, want 15:20", alarm.Due)
	}
}

func TestEndSessionCancelsTasks(t *testing.T) {
	m, sched, clk := newTestManager(t, "2026-09-01 14:00")

	s, err := m.StartRealtimeSession(member(1, "a"), true)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(30 * time.Minute)

	ended, err := m.EndSession()
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != StatusAfter || ended.EndTime != "14:30" {
		t.Errorf("ended status=%s end=%s", ended.Status, ended.EndTime)
	}
	if sched.armed(scheduler.ForceEndKey(s.SessionID)) || sched.armed(scheduler.AlarmKey(s.SessionID)) {
		t.Errorf("termination tasks survived a voluntary end")
	}
	if m.CurrentSession() != nil {
		t.Errorf("room still shows a live session")
	}
}

func TestForceEndIsIdempotent(t *testing.T) {
	m, _, clk := newTestManager(t, "2026-09-01 14:00")

	if _, err := m.StartRealtimeSession(member(1, "a"), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(testBasic)

	ended, ok := m.ForceEndSession()
	if !ok || ended.Status != StatusAfter {
		t.Fatalf("force end: (%+v, %v)", ended, ok)
	}
	if _, ok := m.ForceEndSession(); ok {
		t.Errorf("duplicate force-end delivery reported a transition")
	}
}

func TestDiscardUnstartedSession(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 18:10")

	if err := m.AddReservationSessions([]ReservationDescriptor{
		regularDescriptor("18:00", "20:00", 2),
		regularDescriptor("20:00", "21:00", 3),
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	first := m.NextReservationSession()
	discarded, ok := m.DiscardUnstartedSession(first.SessionID)
	if !ok || discarded.Status != StatusDiscarded || discarded.StartTime != "18:00" {
		t.Fatalf("discard: (%+v, %v)", discarded, ok)
	}
	next := m.NextReservationSession()
	if next == nil || next.StartTime != "20:00" {
		t.Errorf("pointer did not advance: %+v", next)
	}

	// A redelivered discard for the resolved session must not touch the
	// reservation the pointer moved on to.
	if _, ok := m.DiscardUnstartedSession(first.SessionID); ok {
		t.Errorf("duplicate discard delivery reported a transition")
	}
	if next = m.NextReservationSession(); next == nil || next.Status != StatusBefore {
		t.Errorf("duplicate discard reached the next reservation: %+v", next)
	}
}

func TestDiscardAfterStartIsNoOp(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 18:00")

	if err := m.AddReservationSessions([]ReservationDescriptor{regularDescriptor("18:00", "20:00", 2)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	started := m.NextReservationSession()
	if _, err := m.StartReservationSession(member(2, "b")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := m.DiscardUnstartedSession(started.SessionID); ok {
		t.Errorf("discard fired against a started session")
	}
	if cur := m.CurrentSession(); cur == nil || cur.Status != StatusOnAir {
		t.Errorf("live session lost: %+v", cur)
	}
}

func TestClearSessions(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 09:00")
	if err := m.AddReservationSessions([]ReservationDescriptor{regularDescriptor("18:00", "20:00", 2)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.ClearSessions()
	if len(m.Sessions()) != 0 || m.NextReservationSession() != nil {
		t.Errorf("registry not empty after clear")
	}
}

func TestPublisherDeliversMutationsInOrder(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 14:00")

	got := make(chan []byte, 8)
	m.Subscribe(func(list []byte) { got <- list })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	if _, err := m.StartRealtimeSession(member(1, "a"), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.EndSession(); err != nil {
		t.Fatalf("end: %v", err)
	}

	first := waitList(t, got)
	second := waitList(t, got)
	var a, b []*Session
	if err := json.Unmarshal(first, &a); err != nil {
		t.Fatalf("first broadcast: %v", err)
	}
	if err := json.Unmarshal(second, &b); err != nil {
		t.Fatalf("second broadcast: %v", err)
	}
	if a[0].Status != StatusOnAir {
		t.Errorf("first broadcast status = %s, want ONAIR", a[0].Status)
	}
	if b[0].Status != StatusAfter {
		t.Errorf("second broadcast status = %s, want AFTER", b[0].Status)
	}
}

func waitList(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for broadcast")
		return nil
	}
}

func TestRestoreReArmsPendingReservations(t *testing.T) {
	store := snapshot.NewMemory()
	clk := clock.NewFake(at(t, "2026-09-01 17:00"))
	sched := newFakeScheduler()

	pending := reservation("18:00", "20:00", member(2, "b"))
	blob, err := EncodeList([]*Session{pending})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.Save(context.Background(), blob); err != nil {
		t.Fatalf("save: %v", err)
	}

	m := NewManager(clk, seoul, testBasic, sched, store)
	restored, err := m.Restore(context.Background())
	if err != nil || !restored {
		t.Fatalf("restore: (%v, %v)", restored, err)
	}

	discard := sched.task(t, scheduler.DiscardKey(pending.SessionID))
	if !discard.Due.Equal(at(t, "2026-09-01 18:10")) {
		t.Errorf("discard due %v, want 18:10", discard.Due)
	}
	next := m.NextReservationSession()
	if next == nil || next.SessionID != pending.SessionID {
		t.Errorf("pointer not rebuilt: %+v", next)
	}
}

func TestRestoreProbesForceEnd(t *testing.T) {
	live := NewRealtime(member(1, "a"), true, at(t, "2026-09-01 14:00"), seoul, testBasic)
	blob, err := EncodeList([]*Session{live})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	t.Run("task survived", func(t *testing.T) {
		store := snapshot.NewMemory()
		if err := store.Save(context.Background(), blob); err != nil {
			t.Fatalf("save: %v", err)
		}
		sched := newFakeScheduler()
		surviving := scheduler.Task{Key: scheduler.ForceEndKey(live.SessionID), Kind: scheduler.TaskForceEnd, Due: at(t, "2026-09-01 15:00")}
		_ = sched.Schedule(context.Background(), surviving)

		m := NewManager(clock.NewFake(at(t, "2026-09-01 14:30")), seoul, testBasic, sched, store)
		if _, err := m.Restore(context.Background()); err != nil {
			t.Fatalf("restore: %v", err)
		}
		if got := sched.task(t, surviving.Key); !got.Due.Equal(surviving.Due) {
			t.Errorf("surviving task was replaced, due %v", got.Due)
		}
	})

	t.Run("task lost", func(t *testing.T) {
		store := snapshot.NewMemory()
		if err := store.Save(context.Background(), blob); err != nil {
			t.Fatalf("save: %v", err)
		}
		sched := newFakeScheduler()

		m := NewManager(clock.NewFake(at(t, "2026-09-01 14:30")), seoul, testBasic, sched, store)
		if _, err := m.Restore(context.Background()); err != nil {
			t.Fatalf("restore: %v", err)
		}
		task := sched.task(t, scheduler.ForceEndKey(live.SessionID))
		if !task.Due.Equal(at(t, "2026-09-01 15:00")) {
			t.Errorf("re-armed due %v, want 15:00", task.Due)
		}
	})

	t.Run("budget already spent", func(t *testing.T) {
		store := snapshot.NewMemory()
		if err := store.Save(context.Background(), blob); err != nil {
			t.Fatalf("save: %v", err)
		}
		sched := newFakeScheduler()

		now := at(t, "2026-09-01 15:20")
		m := NewManager(clock.NewFake(now), seoul, testBasic, sched, store)
		if _, err := m.Restore(context.Background()); err != nil {
			t.Fatalf("restore: %v", err)
		}
		task := sched.task(t, scheduler.ForceEndKey(live.SessionID))
		if !task.Due.Equal(now) {
			t.Errorf("overdue session due %v, want now (%v)", task.Due, now)
		}
	})
}

func TestRestoreColdStart(t *testing.T) {
	m, _, _ := newTestManager(t, "2026-09-01 14:00")
	restored, err := m.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored {
		t.Errorf("empty store must report a cold start")
	}
}
