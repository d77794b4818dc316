package models

import (
	"github.com/opsbridge/incidents_backend/config"
)

func MigrateTable() {
	logger := config.GetLogger()
	db := config.GetDB()

	err := db.AutoMigrate(
		&Incident{},
		&IdempotencyKey{},
		&WorkflowRun{},
		&IncidentClassification{},
		&Ticket{},
	)
	if err != nil {
		logger.Panicf("auto migrate schema: %v", err)
	}
	logger.Info("schema migration completed")
}
