package models

import "time"

// WorkflowRun tracks a single remediation workflow. Created by intake
// (PENDING, PAYLOAD_VALIDATION), mutated only by the workflow engine, never
// deleted. CurrentStep advances monotonically; a terminal Status is final.
type WorkflowRun struct {
	ID          int            `gorm:"primary_key" json:"id"`
	IncidentID  int            `gorm:"not null;index" json:"incident_id"`
	CurrentStep WorkflowStep   `gorm:"size:40;not null" json:"current_step"`
	Status      WorkflowStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
