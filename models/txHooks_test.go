package models

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var modelTestDBCounter int64

func newModelTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:modeltest%d?mode=memory&cache=shared", atomic.AddInt64(&modelTestDBCounter, 1))
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

	if err := db.AutoMigrate(&Incident{}, &IdempotencyKey{}, &WorkflowRun{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestCommitHookRunsAfterCommit(t *testing.T) {
	db := newModelTestDB(t)

	var order []string
	err := TransactionWithHooks(context.Background(), db, func(ctx context.Context, tx *gorm.DB) error {
		RegisterCommitHook(ctx, func(ctx context.Context) {
			order = append(order, "hook")
		})
		if err := tx.Create(&Incident{Description: "hooked"}).Error; err != nil {
			return err
		}
		order = append(order, "tx")
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	if len(order) != 2 || order[0] != "tx" || order[1] != "hook" {
		t.Fatalf("hook ordering = %v, want [tx hook]", order)
	}
}

func TestCommitHookSkippedOnRollback(t *testing.T) {
	db := newModelTestDB(t)

	hookRan := false
	wantErr := errors.New("abort")
	err := TransactionWithHooks(context.Background(), db, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(&Incident{Description: "doomed"}).Error; err != nil {
			return err
		}
		RegisterCommitHook(ctx, func(ctx context.Context) { hookRan = true })
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("transaction error = %v, want %v", err, wantErr)
	}
	if hookRan {
		t.Fatal("hook ran for a rolled-back transaction")
	}

	var count int64
	db.Model(&Incident{}).Count(&count)
	if count != 0 {
		t.Fatalf("rollback leaked %d incidents", count)
	}
}

func TestRegisterCommitHookOutsideTransactionRunsInline(t *testing.T) {
	ran := false
	RegisterCommitHook(context.Background(), func(ctx context.Context) { ran = true })
	if !ran {
		t.Fatal("hook outside a hooked transaction must run inline")
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	db := newModelTestDB(t)

	first := IdempotencyKey{Key: "k1", WorkflowRunID: 1}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	dup := IdempotencyKey{Key: "k1", WorkflowRunID: 2}
	err := db.Create(&dup).Error
	if err == nil {
		t.Fatal("duplicate insert succeeded")
	}
	if !IsDuplicateKeyErr(err) {
		t.Fatalf("IsDuplicateKeyErr(%v) = false", err)
	}

	if IsDuplicateKeyErr(errors.New("some other error")) {
		t.Fatal("unrelated error reported as duplicate key")
	}
	if IsDuplicateKeyErr(nil) {
		t.Fatal("nil reported as duplicate key")
	}
}
