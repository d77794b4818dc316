package models

import "time"

// IncidentClassification is the classifier's verdict for one workflow run.
// The unique index on WorkflowRunID enforces at-most-one-per-run in the
// database, not just in handler logic.
type IncidentClassification struct {
	ID            int              `gorm:"primary_key" json:"id"`
	WorkflowRunID int              `gorm:"not null;uniqueIndex" json:"workflow_run_id"`
	IncidentID    int              `gorm:"not null;index" json:"incident_id"`
	Category      IncidentCategory `gorm:"size:20;not null" json:"category"`
	Priority      IncidentPriority `gorm:"size:10;not null" json:"priority"`
	Summary       string           `gorm:"type:text;not null" json:"summary"`
	ModelProvider string           `gorm:"size:50" json:"model_provider"`
	ModelName     string           `gorm:"size:100" json:"model_name"`
	RawResponse   string           `gorm:"type:text" json:"raw_response"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}
