package domain

import "time"

// User mirrors the users table; ids are assigned by the identity service
type User struct {
	ID               int64     `db:"id" json:"id"`                                   // BIGINT, PRIMARY KEY
	Name             string    `db:"name" json:"name"`                               // VARCHAR(255), UNIQUE
	RoleID           int64     `db:"role" json:"role_id"`                            // FK to statuses (entity_type='user')
	Role             string    `db:"-" json:"role"`                                  // resolved key
	SamplesCollected int64     `db:"n_samples_collected" json:"n_samples_collected"` // maintained by sample commit
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Caller is the identity resolved from a credential
type Caller struct {
	UserID int64  `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// CanCollect reports whether the role may own kits and submit samples
func CanCollect(role string) bool {
	return role == RoleAdmin || role == RoleVolunteer
}

// ValidRole reports whether role belongs to the user vocabulary
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleVolunteer, RoleObserver:
		return true
	}
	return false
}
