package model

// User carries the member information embedded into session attendance
// records and broadcast to clients.  It is a read-only projection of the
// member tables owned by the external member service; this server never
// mutates member data.
//
// Fields:
//  MemberID         – primary identifier of the member.
//  Email            – contact address, informational only.
//  Name             – legal/display name.
//  Nickname         – optional nickname shown in the client.
//  Club             – name of the club the member belongs to.
//  EnrollmentNumber – school enrollment number, informational only.
//  ProfileImageURL  – avatar URL, informational only.
//  Roles            – role labels assigned to the member.
type User struct {
	MemberID         int64    `json:"memberId"`
	Email            string   `json:"email,omitempty"`
	Name             string   `json:"name"`
	Nickname         string   `json:"nickname,omitempty"`
	Club             string   `json:"club,omitempty"`
	EnrollmentNumber string   `json:"enrollmentNumber,omitempty"`
	ProfileImageURL  string   `json:"profileImageUrl,omitempty"`
	Roles            []string `json:"roles,omitempty"`
}
