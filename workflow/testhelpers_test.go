package workflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/opsbridge/incidents_backend/classifier"
	"github.com/opsbridge/incidents_backend/models"
	"github.com/opsbridge/incidents_backend/queue"
)

var testDBCounter int64

// newTestDB opens a private in-memory sqlite database. TranslateError gives
// the same gorm.ErrDuplicatedKey the MySQL driver produces in production;
// a single connection serializes concurrent transactions the way the real
// database's row locks would.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:workflowtest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.Incident{},
		&models.IdempotencyKey{},
		&models.WorkflowRun{},
		&models.IncidentClassification{},
		&models.Ticket{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// stubClassifier returns a fixed verdict and counts invocations.
type stubClassifier struct {
	result classifier.Result
	calls  int32
}

func newStubClassifier() *stubClassifier {
	return &stubClassifier{
		result: classifier.Result{
			Category:    models.IncidentCategorySoftware,
			Priority:    models.IncidentPriorityP2,
			Summary:     "VPN outage for a team",
			RawResponse: `{"category":"SOFTWARE","priority":"P2","summary":"VPN outage for a team"}`,
		},
	}
}

func (s *stubClassifier) Classify(ctx context.Context, description string) classifier.Result {
	atomic.AddInt32(&s.calls, 1)
	return s.result
}

func (s *stubClassifier) Provider() string  { return "stub" }
func (s *stubClassifier) ModelName() string { return "stub-model" }

func (s *stubClassifier) callCount() int {
	return int(atomic.LoadInt32(&s.calls))
}

// failingChannel rejects every publish; receive is always empty.
type failingChannel struct {
	publishErr error
}

func (f *failingChannel) Publish(ctx context.Context, body []byte) (string, error) {
	return "", f.publishErr
}

func (f *failingChannel) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	return nil, nil
}

func (f *failingChannel) Ack(ctx context.Context, msg queue.Message) error  { return nil }
func (f *failingChannel) Nack(ctx context.Context, msg queue.Message) error { return nil }
