// Package scheduler provides delayed task execution for the session core.
// A task is a named, one-shot callback armed for a future instant: force-end
// when a session's time budget runs out, an alarm shortly before that,
// discard of a reservation that was never started, and the automatic start
// of external reservations.
//
// Delivery is at least once.  A task may fire after the condition it guards
// has already been resolved by a user action, or may be delivered twice when
// the backing store and the process restart independently, so every handler
// must be idempotent against the live registry state.  Cancelling a task
// that no longer exists is treated as success for the same reason.
package scheduler

import (
	"context"
	"strings"
	"time"
)

// TaskKind identifies what a fired task should do.  Handlers are registered
// per kind.
type TaskKind string

const (
	TaskForceEnd      TaskKind = "force-end-session"
	TaskForceEndAlarm TaskKind = "force-end-alarm"
	TaskDiscard       TaskKind = "discard-reservation-session"
	TaskAutoStart     TaskKind = "start-external-reservation"
)

// Task is a pending delayed callback.  Key is deterministic per
// (session, kind) so a stale task can always be located and cancelled before
// a replacement is armed.  Payload is an opaque snapshot captured when the
// task was scheduled; handlers use it only for notification content and
// re-read the registry for truth.
type Task struct {
	Key     string
	Kind    TaskKind
	Due     time.Time
	Payload []byte
}

// Handler consumes a fired task.  Returned errors are logged by the
// scheduler; the task is not retried, because handlers resolve stale
// deliveries as no-ops themselves.
type Handler func(ctx context.Context, task Task) error

// Scheduler arms, cancels and inspects delayed tasks.
type Scheduler interface {
	// Schedule arms the task.  An existing task under the same key is
	// replaced.
	Schedule(ctx context.Context, task Task) error
	// Cancel removes a pending task.  A missing key is success: the task
	// may already have fired or was never armed.
	Cancel(ctx context.Context, key string) error
	// Exists reports whether a pending task is armed under key.  Used by
	// crash recovery to avoid double-arming force-end tasks.
	Exists(ctx context.Context, key string) (bool, error)
	// Register binds a handler to a task kind.  Must be called before the
	// scheduler starts dispatching.
	Register(kind TaskKind, h Handler)
}

// Deterministic task keys, derived from the session id.  The force-end key
// is the bare session id so that recovery can probe it knowing nothing but
// the session.
func ForceEndKey(sessionID string) string { return sessionID }

// AlarmKey names the pre-termination alarm task for a session.
func AlarmKey(sessionID string) string { return sessionID + ":alarm" }

// DiscardKey names the grace-window discard task for a reservation session.
func DiscardKey(sessionID string) string { return sessionID + ":discard" }

// AutoStartKey names the automatic start task for an external reservation.
func AutoStartKey(sessionID string) string { return sessionID + ":start" }

// SessionIDFromKey recovers the session id a derived key was built from.
// The bare force-end key passes through unchanged.
func SessionIDFromKey(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
