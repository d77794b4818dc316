package models

import "time"

// Incident is the raw report as received at intake. Immutable after creation
// except for the audit timestamps.
type Incident struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Description string    `gorm:"type:text;not null" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
