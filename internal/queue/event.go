// Package queue defines message payloads exchanged over the message broker
// and the background consumer that drains them.
package queue

import (
	"time"

	"github.com/iliyamo/practice-room-server/internal/session"
)

// FinalizedQueueName is the durable queue finalized sessions are published
// to.
const FinalizedQueueName = "session.finalized"

// AttendanceEntry is one member's attendance inside a finalized event,
// flattened for downstream consumers that never query the member store.
type AttendanceEntry struct {
	MemberID  int64  `json:"member_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SessionFinalizedEvent is published when a session terminates (end, forced
// end or discard).  It carries enough information for logging, notification
// and analytics consumers to work without touching the primary database.
type SessionFinalizedEvent struct {
	SessionID       string            `json:"session_id"`
	Date            string            `json:"date"`
	SessionType     string            `json:"session_type"`
	Title           string            `json:"title"`
	StartTime       string            `json:"start_time"`
	EndTime         string            `json:"end_time"`
	Status          string            `json:"status"`
	ExtendCount     int               `json:"extend_count"`
	ReservationID   int64             `json:"reservation_id,omitempty"`
	ReservationType string            `json:"reservation_type,omitempty"`
	CreatorID       int64             `json:"creator_id,omitempty"`
	ForceEnd        bool              `json:"force_end"`
	ReturnImageURLs []string          `json:"return_image_urls,omitempty"`
	Attendance      []AttendanceEntry `json:"attendance"`
	FinalizedAt     string            `json:"finalized_at"`
}

// NewSessionFinalizedEvent flattens a finalized record into its wire form.
func NewSessionFinalizedEvent(f session.Finalized, finalizedAt time.Time) SessionFinalizedEvent {
	s := f.Session
	ev := SessionFinalizedEvent{
		SessionID:       s.SessionID,
		Date:            s.Date,
		SessionType:     string(s.Kind),
		Title:           s.Title,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		Status:          string(s.Status),
		ExtendCount:     s.ExtendCount,
		ReservationID:   s.ReservationID,
		ReservationType: string(s.ReservationType),
		ForceEnd:        f.ForceEnd,
		ReturnImageURLs: f.ReturnImageURLs,
		FinalizedAt:     finalizedAt.UTC().Format(time.RFC3339),
	}
	if s.Creator != nil {
		ev.CreatorID = s.Creator.MemberID
	}
	for _, a := range s.AttendanceList {
		entry := AttendanceEntry{MemberID: a.User.MemberID, Name: a.User.Name, Status: string(a.Status)}
		if a.Timestamp != nil {
			entry.Timestamp = a.Timestamp.UTC().Format(time.RFC3339)
		}
		ev.Attendance = append(ev.Attendance, entry)
	}
	return ev
}
