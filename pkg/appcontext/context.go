package appcontext

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextId int

const (
	jobNameKeyId contextId = iota
	runIdKeyId
	xenHostKeyId
	vmNameKeyId
	storageNameKeyId
	requestIdKeyId
)

func WithJobName(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobNameKeyId, job)
}

func WithRunId(ctx context.Context, runId string) context.Context {
	return context.WithValue(ctx, runIdKeyId, runId)
}

func WithXenHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, xenHostKeyId, host)
}

func WithVmName(ctx context.Context, vm string) context.Context {
	return context.WithValue(ctx, vmNameKeyId, vm)
}

func WithStorageName(ctx context.Context, storage string) context.Context {
	return context.WithValue(ctx, storageNameKeyId, storage)
}

func WithRequestId(ctx context.Context, requestId string) context.Context {
	return context.WithValue(ctx, requestIdKeyId, requestId)
}

func LoggerFromContext(logger logrus.FieldLogger, ctx context.Context) logrus.FieldLogger {
	if ctx == nil {
		return logger
	}

	result := logger

	if ctxJobName, ok := ctx.Value(jobNameKeyId).(string); ok {
		result = result.WithField("job", ctxJobName)
	}

	if ctxRunId, ok := ctx.Value(runIdKeyId).(string); ok && ctxRunId != "" {
		result = result.WithField("run_id", ctxRunId)
	}

	if ctxXenHost, ok := ctx.Value(xenHostKeyId).(string); ok && ctxXenHost != "" {
		result = result.WithField("xen_host", ctxXenHost)
	}

	if ctxVmName, ok := ctx.Value(vmNameKeyId).(string); ok && ctxVmName != "" {
		result = result.WithField("vm", ctxVmName)
	}

	if ctxStorageName, ok := ctx.Value(storageNameKeyId).(string); ok && ctxStorageName != "" {
		result = result.WithField("storage", ctxStorageName)
	}

	if ctxRequestId, ok := ctx.Value(requestIdKeyId).(string); ok && ctxRequestId != "" {
		result = result.WithField("request_id", ctxRequestId)
	}

	return result
}
