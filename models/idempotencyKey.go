package models

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// IdempotencyKey binds a client-supplied key to the workflow run created for
// it. The key is the primary identity; inserting the row is the linearization
// point for "is this request new". Rows are never updated after creation.
type IdempotencyKey struct {
	Key           string    `gorm:"primaryKey;size:255" json:"key"`
	WorkflowRunID int       `gorm:"not null;index" json:"workflow_run_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsDuplicateKeyErr reports whether err is a uniqueness violation. MySQL 1062
// is checked directly; gorm.ErrDuplicatedKey covers drivers behind
// TranslateError (sqlite in tests).
func IsDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
