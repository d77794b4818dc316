package models

import "time"

// Ticket is the remediation ticket produced by the final workflow step.
// At most one per workflow run (unique index on WorkflowRunID).
type Ticket struct {
	ID            int          `gorm:"primary_key" json:"id"`
	IncidentID    int          `gorm:"not null;index" json:"incident_id"`
	WorkflowRunID int          `gorm:"not null;uniqueIndex" json:"workflow_run_id"`
	Title         string       `gorm:"size:500;not null" json:"title"`
	Description   string       `gorm:"type:text" json:"description"`
	Status        TicketStatus `gorm:"size:20;not null" json:"status"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}
