package types

import "time"

const (
	ProfileStatusActive    = "active"
	ProfileStatusSuspended = "suspended"
)

// Profile is the portal's record of a signed-up user. Role here takes
// precedence over whatever the token claims.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (p Profile) Suspended() bool { return p.Status == ProfileStatusSuspended }

// ProfileFilter narrows an admin listing. Empty fields match everything.
type ProfileFilter struct {
	Role   string
	Status string
	Query  string
	Limit  int
	Offset int
}
