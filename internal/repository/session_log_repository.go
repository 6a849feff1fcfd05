package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/practice-room-server/internal/session"
)

// SessionLogRepo appends finalized sessions to the durable history tables.
// The live registry owns only today's state; once a session terminates the
// full record (including per-member attendance and cleanup photos) lands
// here exactly once and is never updated.
type SessionLogRepo struct {
	db *sql.DB
}

// NewSessionLogRepo returns a new SessionLogRepo bound to the provided
// database.
func NewSessionLogRepo(db *sql.DB) *SessionLogRepo { return &SessionLogRepo{db: db} }

// Insert writes one finalized session with its attendance and return-image
// rows inside a single transaction.
func (r *SessionLogRepo) Insert(ctx context.Context, f session.Finalized) error {
	s := f.Session
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var creatorID sql.NullInt64
	if s.Creator != nil {
		creatorID = sql.NullInt64{Int64: s.Creator.MemberID, Valid: true}
	}
	var reservationID sql.NullInt64
	var reservationType sql.NullString
	if s.Kind == session.KindReserved {
		reservationID = sql.NullInt64{Int64: s.ReservationID, Valid: true}
		reservationType = sql.NullString{String: string(s.ReservationType), Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO session_log
		   (session_id, date, session_type, reservation_type, reservation_id,
		    title, start_time, end_time, extend_count, participation_available,
		    creator_id, status, force_end)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.Date, string(s.Kind), reservationType, reservationID,
		s.Title, s.StartTime, s.EndTime, s.ExtendCount, s.ParticipationAvailable,
		creatorID, string(s.Status), f.ForceEnd,
	)
	if err != nil {
		return err
	}
	logID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, a := range s.AttendanceList {
		var ts sql.NullTime
		if a.Timestamp != nil {
			ts = sql.NullTime{Time: a.Timestamp.UTC(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_log_attendance (session_log_id, member_id, status, time_stamp)
			 VALUES (?, ?, ?, ?)`,
			logID, a.User.MemberID, string(a.Status), ts,
		); err != nil {
			return err
		}
	}

	for _, url := range f.ReturnImageURLs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_log_return_image (session_log_id, url) VALUES (?, ?)`,
			logID, url,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
