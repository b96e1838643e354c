package domain

import (
	"math"
	"time"
)

// GPS is a WGS84 coordinate
type GPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects coordinates outside [-90,90] x [-180,180]
func (g GPS) Validate() error {
	if math.IsNaN(g.Latitude) || math.IsNaN(g.Longitude) {
		return InvalidInput("gps coordinates must be numbers")
	}
	if g.Latitude < -90 || g.Latitude > 90 {
		return InvalidInput("latitude %v out of range [-90, 90]", g.Latitude)
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return InvalidInput("longitude %v out of range [-180, 180]", g.Longitude)
	}
	return nil
}

// Sample mirrors the samples table; the photo bytes are loaded separately
type Sample struct {
	ID               int64      `db:"id" json:"id"`
	ResearchID       int64      `db:"research_id" json:"research_id"`
	QRID             int64      `db:"qr_id" json:"qr_id"` // UNIQUE
	OwnerID          int64      `db:"owner_id" json:"owner_id"`
	CollectedAt      time.Time  `db:"collected_at" json:"collected_at"`
	GPS              GPS        `db:"gps" json:"gps"`
	StatusID         int64      `db:"status" json:"status_id"`
	Status           string     `db:"-" json:"status"`
	Weather          *string    `db:"weather" json:"weather,omitempty"`
	Locality         *string    `db:"locality" json:"locality,omitempty"`
	Comment          *string    `db:"comment" json:"comment,omitempty"`
	HasPhoto         bool       `db:"-" json:"has_photo"`
	SentToLabAt      *time.Time `db:"sent_to_lab_at" json:"sent_to_lab_at,omitempty"`
	DeliveredToLabAt *time.Time `db:"delivered_to_lab_at" json:"delivered_to_lab_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// SampleField names a nullable sample column that auxiliary pushes overwrite
type SampleField string

const (
	SampleFieldWeather  SampleField = "weather"
	SampleFieldComment  SampleField = "comment"
	SampleFieldLocality SampleField = "locality"
	SampleFieldPhoto    SampleField = "photo"
)
