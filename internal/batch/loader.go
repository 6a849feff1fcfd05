// Package batch loads the day's reserved sessions into the registry.
package batch

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/practice-room-server/internal/clock"
	"github.com/iliyamo/practice-room-server/internal/session"
)

// ReservationSource yields the reservations scheduled for a given date.
type ReservationSource interface {
	ListByDate(ctx context.Context, date string) ([]session.ReservationDescriptor, error)
}

// Registry is the slice of the session registry the loader drives.
type Registry interface {
	ClearSessions()
	AddReservationSessions(descs []session.ReservationDescriptor) error
}

// Loader pulls reservations from storage and registers them as pending
// sessions. Run replaces the registry contents at each local midnight.
type Loader struct {
	src ReservationSource
	reg Registry
	clk clock.Clock
	loc *time.Location
}

func NewLoader(src ReservationSource, reg Registry, clk clock.Clock, loc *time.Location) *Loader {
	return &Loader{src: src, reg: reg, clk: clk, loc: loc}
}

// LoadToday registers today's reservations without clearing the registry.
// Used at boot after a snapshot restore came up empty.
func (l *Loader) LoadToday(ctx context.Context) error {
	date := l.clk.Now().In(l.loc).Format("2006-01-02")
	descs, err := l.src.ListByDate(ctx, date)
	if err != nil {
		return err
	}
	log.Printf("batch: loaded %d reservations for %s", len(descs), date)
	return l.reg.AddReservationSessions(descs)
}

// Reload clears the registry and loads the current day's reservations.
func (l *Loader) Reload(ctx context.Context) error {
	l.reg.ClearSessions()
	return l.LoadToday(ctx)
}

// Run blocks until ctx is done, reloading the registry at every local
// midnight. Failures are logged and retried at the next rollover.
func (l *Loader) Run(ctx context.Context) {
	for {
		now := l.clk.Now().In(l.loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := l.Reload(ctx); err != nil {
			log.Printf("batch: midnight reload failed: %v", err)
		}
	}
}
