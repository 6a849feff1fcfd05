package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/practice-room-server/internal/model"
)

// MemberRepo provides read access to the member tables owned by the
// external member service.  The session server only ever loads display
// information to embed into attendance records; it never writes.
type MemberRepo struct {
	db *sql.DB
}

// NewMemberRepo returns a new MemberRepo bound to the provided database.
func NewMemberRepo(db *sql.DB) *MemberRepo { return &MemberRepo{db: db} }

// GetByID loads a member with club name and role labels.  Returns
// ErrMemberNotFound when the id resolves to no row.
func (r *MemberRepo) GetByID(ctx context.Context, memberID int64) (model.User, error) {
	const q = `SELECT m.member_id, m.email, m.name, COALESCE(m.nickname, ''),
	                  COALESCE(c.club_name, ''), COALESCE(m.enrollment_number, ''),
	                  COALESCE(m.profile_image_url, '')
	           FROM member m
	           LEFT JOIN club c ON c.club_id = m.club_id
	           WHERE m.member_id = ?`
	var u model.User
	err := r.db.QueryRowContext(ctx, q, memberID).Scan(
		&u.MemberID, &u.Email, &u.Name, &u.Nickname,
		&u.Club, &u.EnrollmentNumber, &u.ProfileImageURL,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrMemberNotFound
	}
	if err != nil {
		return model.User{}, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT role FROM role_assignment WHERE member_id = ?`, memberID)
	if err != nil {
		return model.User{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return model.User{}, err
		}
		u.Roles = append(u.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return model.User{}, err
	}
	return u, nil
}
