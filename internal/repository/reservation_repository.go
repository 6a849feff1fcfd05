package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/practice-room-server/internal/model"
	"github.com/iliyamo/practice-room-server/internal/session"
)

// ReservationRepo reads the persisted reservations that the daily batch
// turns into reservation sessions.  Reservation creation and the overlap
// checks behind it are owned by the admin service; this repository only
// lists a day's confirmed slots.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the provided
// database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// ListByDate loads every reservation for the given calendar date
// (YYYY-MM-DD, local zone) ordered by start time, with roster and borrowed
// instruments resolved, in the descriptor form the session registry
// consumes.
func (r *ReservationRepo) ListByDate(ctx context.Context, date string) ([]session.ReservationDescriptor, error) {
	const q = `SELECT r.reservation_id, r.reservation_type, r.title,
	                  TIME_FORMAT(r.start_time, '%H:%i'), TIME_FORMAT(r.end_time, '%H:%i'),
	                  r.participation_available, r.creator_id
	           FROM reservation r
	           WHERE r.date = ?
	           ORDER BY r.start_time ASC`
	rows, err := r.db.QueryContext(ctx, q, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var descs []session.ReservationDescriptor
	var creatorIDs []sql.NullInt64
	for rows.Next() {
		var d session.ReservationDescriptor
		var rtype string
		var creatorID sql.NullInt64
		if err := rows.Scan(&d.ReservationID, &rtype, &d.Title, &d.StartTime, &d.EndTime, &d.ParticipationAvailable, &creatorID); err != nil {
			return nil, err
		}
		d.ReservationType = session.ReservationType(rtype)
		d.Date = date
		descs = append(descs, d)
		creatorIDs = append(creatorIDs, creatorID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members := NewMemberRepo(r.db)
	for i := range descs {
		participators, err := r.listParticipators(ctx, descs[i].ReservationID)
		if err != nil {
			return nil, err
		}
		descs[i].Participators = participators
		instruments, err := r.listInstruments(ctx, descs[i].ReservationID)
		if err != nil {
			return nil, err
		}
		descs[i].BorrowInstruments = instruments
		// EXTERNAL reservations have no creator; anything else links back
		// to the reserving member.
		if creatorIDs[i].Valid {
			u, err := members.GetByID(ctx, creatorIDs[i].Int64)
			if err == nil {
				descs[i].Creator = &u
			} else if err != ErrMemberNotFound {
				return nil, err
			}
		}
	}
	return descs, nil
}

func (r *ReservationRepo) listParticipators(ctx context.Context, reservationID int64) ([]model.User, error) {
	const q = `SELECT m.member_id, m.email, m.name, COALESCE(m.nickname, ''),
	                  COALESCE(c.club_name, ''), COALESCE(m.enrollment_number, ''),
	                  COALESCE(m.profile_image_url, '')
	           FROM reservation_participator rp
	           JOIN member m ON m.member_id = rp.member_id
	           LEFT JOIN club c ON c.club_id = m.club_id
	           WHERE rp.reservation_id = ?
	           ORDER BY m.member_id ASC`
	rows, err := r.db.QueryContext(ctx, q, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.MemberID, &u.Email, &u.Name, &u.Nickname, &u.Club, &u.EnrollmentNumber, &u.ProfileImageURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *ReservationRepo) listInstruments(ctx context.Context, reservationID int64) ([]model.BriefInstrument, error) {
	const q = `SELECT i.instrument_id, i.name
	           FROM reservation_instrument ri
	           JOIN instrument i ON i.instrument_id = ri.instrument_id
	           WHERE ri.reservation_id = ?`
	rows, err := r.db.QueryContext(ctx, q, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BriefInstrument
	for rows.Next() {
		var bi model.BriefInstrument
		if err := rows.Scan(&bi.InstrumentID, &bi.Name); err != nil {
			return nil, err
		}
		out = append(out, bi)
	}
	return out, rows.Err()
}
