package utils

import (
	"context"

	"github.com/opsbridge/incidents_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyWorkflowRunId = appctx.ContextKeyWorkflowRunId
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetWorkflowRunIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyWorkflowRunId)
}

func SetWorkflowRunIdInContext(ctx context.Context, workflowRunId int) context.Context {
	return appctx.Set(ctx, ContextKeyWorkflowRunId, workflowRunId)
}
