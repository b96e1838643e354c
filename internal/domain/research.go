package domain

import "time"

// Research mirrors the researches table
type Research struct {
	ID               int64      `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"` // UNIQUE, case-sensitive
	Comment          *string    `db:"comment" json:"comment"`
	CreatedBy        int64      `db:"created_by" json:"created_by"`
	StatusID         int64      `db:"status" json:"status_id"`
	Status           string     `db:"-" json:"status"`
	DayStart         time.Time  `db:"day_start" json:"day_start"`
	DayEnd           *time.Time `db:"day_end" json:"day_end"` // nullable, >= day_start
	ApprovalRequired bool       `db:"approval_required" json:"approval_required"`
	SampleCount      int64      `db:"n_samples" json:"n_samples"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Day truncates t to a UTC calendar day, the granularity of day_start/day_end
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
