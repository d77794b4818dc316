package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opsbridge/incidents_backend/models"
	"github.com/opsbridge/incidents_backend/queue"
)

func TestSubmitIncidentRequiresIdempotencyKey(t *testing.T) {
	db := newTestDB(t)
	channel := queue.NewMemoryChannel(10*time.Millisecond, time.Second)
	gateway := NewIntakeGateway(db, NewEnqueuer(channel))

	for _, key := range []string{"", "   "} {
		_, err := gateway.SubmitIncident(context.Background(), key, IncidentPayload{Description: "VPN down"})
		if !errors.Is(err, ErrMissingIdempotencyKey) {
			t.Fatalf("key %q: want ErrMissingIdempotencyKey, got %v", key, err)
		}
	}

	var count int64
	db.Model(&models.Incident{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected submission must not persist incidents, found %d", count)
	}
}

func TestSubmitIncidentCreatesRunAndPublishesAfterCommit(t *testing.T) {
	db := newTestDB(t)
	channel := queue.NewMemoryChannel(10*time.Millisecond, time.Second)
	gateway := NewIntakeGateway(db, NewEnqueuer(channel))

	runID, err := gateway.SubmitIncident(context.Background(), "key-1", IncidentPayload{Description: "VPN down for the whole sales team"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if runID <= 0 {
		t.Fatalf("want positive workflow run id, got %d", runID)
	}

	var run models.WorkflowRun
	if err := db.First(&run, runID).Error; err != nil {
		t.Fatalf("load workflow run: %v", err)
	}
	if run.Status != models.WorkflowStatusPending {
		t.Errorf("new run status = %s, want %s", run.Status, models.WorkflowStatusPending)
	}
	if run.CurrentStep != models.WorkflowStepPayloadValidation {
		t.Errorf("new run step = %s, want %s", run.CurrentStep, models.WorkflowStepPayloadValidation)
	}

	var incident models.Incident
	if err := db.First(&incident, run.IncidentID).Error; err != nil {
		t.Fatalf("load incident: %v", err)
	}
	if incident.Description != "VPN down for the whole sales team" {
		t.Errorf("incident description = %q", incident.Description)
	}

	if got := channel.Size(); got != 1 {
		t.Fatalf("want exactly one published work item, got %d", got)
	}
	msgs, err := channel.Receive(context.Background(), 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive published work item: msgs=%d err=%v", len(msgs), err)
	}
	var item WorkItem
	if err := json.Unmarshal(msgs[0].Body, &item); err != nil {
		t.Fatalf("unmarshal work item: %v", err)
	}
	if item.WorkflowRunID != runID {
		t.Errorf("work item run id = %d, want %d", item.WorkflowRunID, runID)
	}
}

func TestSubmitIncidentDuplicateKeyReturnsSameRun(t *testing.T) {
	db := newTestDB(t)
	channel := queue.NewMemoryChannel(10*time.Millisecond, time.Second)
	gateway := NewIntakeGateway(db, NewEnqueuer(channel))

	first, err := gateway.SubmitIncident(context.Background(), "dup-key", IncidentPayload{Description: "printer on fire"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := gateway.SubmitIncident(context.Background(), "dup-key", IncidentPayload{Description: "printer on fire"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first != second {
		t.Fatalf("duplicate submission returned run %d, want %d", second, first)
	}

	var runs, incidents int64
	db.Model(&models.WorkflowRun{}).Count(&runs)
	db.Model(&models.Incident{}).Count(&incidents)
	if runs != 1 || incidents != 1 {
		t.Fatalf("duplicate submission created rows: runs=%d incidents=%d", runs, incidents)
	}
	if got := channel.Size(); got != 1 {
		t.Fatalf("duplicate submission republished: %d messages", got)
	}
}

func TestSubmitIncidentConcurrentSameKey(t *testing.T) {
	db := newTestDB(t)
	channel := queue.NewMemoryChannel(10*time.Millisecond, time.Second)
	gateway := NewIntakeGateway(db, NewEnqueuer(channel))

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]int, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = gateway.SubmitIncident(context.Background(), "race-key", IncidentPayload{Description: "disk full on db-01"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got run %d, worker 0 got %d", i, ids[i], ids[0])
		}
	}

	var runs, incidents, keys int64
	db.Model(&models.WorkflowRun{}).Count(&runs)
	db.Model(&models.Incident{}).Count(&incidents)
	db.Model(&models.IdempotencyKey{}).Count(&keys)
	if runs != 1 || incidents != 1 || keys != 1 {
		t.Fatalf("race leaked rows: runs=%d incidents=%d keys=%d", runs, incidents, keys)
	}
}

func TestSubmitIncidentSurvivesPublishFailure(t *testing.T) {
	db := newTestDB(t)
	gateway := NewIntakeGateway(db, NewEnqueuer(&failingChannel{publishErr: errors.New("broker down")}))

	runID, err := gateway.SubmitIncident(context.Background(), "key-pub-fail", IncidentPayload{Description: "mail relay rejecting everything"})
	if err != nil {
		t.Fatalf("submit must succeed when publish fails after commit: %v", err)
	}

	// The committed run stays PENDING for the sweeper to pick up.
	var run models.WorkflowRun
	if err := db.First(&run, runID).Error; err != nil {
		t.Fatalf("load workflow run: %v", err)
	}
	if run.Status != models.WorkflowStatusPending {
		t.Errorf("run status = %s, want %s", run.Status, models.WorkflowStatusPending)
	}
}
