// Package sessionlog fans a finalized session out to the durable sinks:
// the relational history tables and the session.finalized broker queue.
// The registry emits each finalized record exactly once; everything past
// that point is sink-local best effort.
package sessionlog

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/practice-room-server/internal/queue"
	"github.com/iliyamo/practice-room-server/internal/repository"
	"github.com/iliyamo/practice-room-server/internal/service"
	"github.com/iliyamo/practice-room-server/internal/session"
)

// PublishFunc publishes a finalized event to the broker.  Indirection keeps
// tests off the network.
type PublishFunc func(ctx context.Context, ev queue.SessionFinalizedEvent) error

// Finalizer persists finalized sessions and notifies downstream consumers.
type Finalizer struct {
	repo    *repository.SessionLogRepo
	publish PublishFunc
}

// New returns a Finalizer writing through repo and publish.  A nil repo
// skips the history tables (database-less runs); a nil publish falls back
// to the RabbitMQ publisher.
func New(repo *repository.SessionLogRepo, publish PublishFunc) *Finalizer {
	if publish == nil {
		publish = queue_publisher.PublishSessionFinalized
	}
	return &Finalizer{repo: repo, publish: publish}
}

// Finalize writes the record to the history tables and publishes the
// broker event.  A sink failure is logged, not propagated: the session has
// already terminated in the registry and must not be resurrected because a
// sink was down.
func (f *Finalizer) Finalize(ctx context.Context, rec session.Finalized) {
	if f.repo != nil {
		if err := f.repo.Insert(ctx, rec); err != nil {
			log.Printf("sessionlog: insert %s failed: %v", rec.Session.SessionID, err)
		}
	}
	if f.publish != nil {
		ev := queue.NewSessionFinalizedEvent(rec, time.Now())
		if err := f.publish(ctx, ev); err != nil {
			log.Printf("sessionlog: publish %s failed: %v", rec.Session.SessionID, err)
		}
	}
}
