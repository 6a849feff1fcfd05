package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/practice-room-server/internal/clock"
	"github.com/iliyamo/practice-room-server/internal/session"
)

type fakeSource struct {
	byDate map[string][]session.ReservationDescriptor
	err    error
	asked  []string
}

func (f *fakeSource) ListByDate(_ context.Context, date string) ([]session.ReservationDescriptor, error) {
	f.asked = append(f.asked, date)
	if f.err != nil {
		return nil, f.err
	}
	return f.byDate[date], nil
}

type fakeRegistry struct {
	cleared int
	added   [][]session.ReservationDescriptor
}

func (r *fakeRegistry) ClearSessions() { r.cleared++ }

func (r *fakeRegistry) AddReservationSessions(descs []session.ReservationDescriptor) error {
	r.added = append(r.added, descs)
	return nil
}

func seoulClock(t *testing.T, value string) *clock.Fake {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("bad test time %q: %v", value, err)
	}
	return clock.NewFake(ts)
}

func TestLoadTodayUsesLocalDate(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Seoul")
	src := &fakeSource{byDate: map[string][]session.ReservationDescriptor{
		"2026-09-01": {{ReservationID: 1, Date: "2026-09-01", StartTime: "18:00", EndTime: "20:00"}},
	}}
	reg := &fakeRegistry{}
	clk := seoulClock(t, "2026-09-01 08:30")

	l := NewLoader(src, reg, clk, loc)
	if err := l.LoadToday(context.Background()); err != nil {
		t.Fatalf("LoadToday: %v", err)
	}
	if len(src.asked) != 1 || src.asked[0] != "2026-09-01" {
		t.Errorf("queried dates %v, want [2026-09-01]", src.asked)
	}
	if len(reg.added) != 1 || len(reg.added[0]) != 1 {
		t.Errorf("registry additions %v", reg.added)
	}
	if reg.cleared != 0 {
		t.Errorf("LoadToday must not clear the registry")
	}
}

func TestReloadClearsFirst(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Seoul")
	src := &fakeSource{byDate: map[string][]session.ReservationDescriptor{}}
	reg := &fakeRegistry{}
	l := NewLoader(src, reg, seoulClock(t, "2026-09-01 08:30"), loc)

	if err := l.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if reg.cleared != 1 {
		t.Errorf("cleared %d times, want 1", reg.cleared)
	}
}

func TestReloadPropagatesSourceError(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Seoul")
	boom := errors.New("db down")
	src := &fakeSource{err: boom}
	reg := &fakeRegistry{}
	l := NewLoader(src, reg, seoulClock(t, "2026-09-01 08:30"), loc)

	if err := l.Reload(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want the source error", err)
	}
	// The registry was already cleared; the midnight loop retries next day.
	if reg.cleared != 1 {
		t.Errorf("cleared %d times, want 1", reg.cleared)
	}
}
