package models

import "strings"

type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "PENDING"
	WorkflowStatusInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowStatusCompleted  WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed     WorkflowStatus = "FAILED"
)

// IsTerminal reports whether the engine must never mutate the run again.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

type WorkflowStep string

const (
	WorkflowStepPayloadValidation      WorkflowStep = "PAYLOAD_VALIDATION"
	WorkflowStepIncidentClassification WorkflowStep = "INCIDENT_CLASSIFICATION"
	WorkflowStepTicketCreation         WorkflowStep = "TICKET_CREATION"
)

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusCompleted  TicketStatus = "COMPLETED"
	TicketStatusFailed     TicketStatus = "FAILED"
)

type IncidentCategory string

const (
	IncidentCategoryAccess   IncidentCategory = "ACCESS"
	IncidentCategoryNetwork  IncidentCategory = "NETWORK"
	IncidentCategoryHardware IncidentCategory = "HARDWARE"
	IncidentCategorySoftware IncidentCategory = "SOFTWARE"
	IncidentCategorySecurity IncidentCategory = "SECURITY"
	IncidentCategoryData     IncidentCategory = "DATA"
	IncidentCategoryOther    IncidentCategory = "OTHER"
)

func AllIncidentCategories() []IncidentCategory {
	return []IncidentCategory{
		IncidentCategoryAccess,
		IncidentCategoryNetwork,
		IncidentCategoryHardware,
		IncidentCategorySoftware,
		IncidentCategorySecurity,
		IncidentCategoryData,
		IncidentCategoryOther,
	}
}

func (c IncidentCategory) Valid() bool {
	for _, known := range AllIncidentCategories() {
		if c == known {
			return true
		}
	}
	return false
}

type IncidentPriority string

const (
	IncidentPriorityP1 IncidentPriority = "P1"
	IncidentPriorityP2 IncidentPriority = "P2"
	IncidentPriorityP3 IncidentPriority = "P3"
)

func AllIncidentPriorities() []IncidentPriority {
	return []IncidentPriority{IncidentPriorityP1, IncidentPriorityP2, IncidentPriorityP3}
}

func (p IncidentPriority) Valid() bool {
	for _, known := range AllIncidentPriorities() {
		if p == known {
			return true
		}
	}
	return false
}

func JoinIncidentCategories(sep string) string {
	parts := make([]string, 0, len(AllIncidentCategories()))
	for _, c := range AllIncidentCategories() {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, sep)
}

func JoinIncidentPriorities(sep string) string {
	parts := make([]string, 0, len(AllIncidentPriorities()))
	for _, p := range AllIncidentPriorities() {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, sep)
}
