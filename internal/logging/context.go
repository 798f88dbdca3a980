package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldFileID is the standardized structured logging key for pipeline file identifiers.
	FieldFileID = "file_id"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldJobKind is the standardized structured logging key for job kinds.
	FieldJobKind = "job_kind"
	// FieldEventType is the standardized structured logging key for machine-readable event tags.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator guidance.
	FieldErrorHint = "error_hint"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

type contextKey string

const (
	ctxFileID    contextKey = "file_id"
	ctxJobID     contextKey = "job_id"
	ctxJobKind   contextKey = "job_kind"
	ctxRequestID contextKey = "request_id"
)

// WithJob attaches job identity to the context for downstream log enrichment.
func WithJob(ctx context.Context, fileID, jobID int64, kind, requestID string) context.Context {
	ctx = context.WithValue(ctx, ctxFileID, fileID)
	ctx = context.WithValue(ctx, ctxJobID, jobID)
	ctx = context.WithValue(ctx, ctxJobKind, kind)
	if requestID != "" {
		ctx = context.WithValue(ctx, ctxRequestID, requestID)
	}
	return ctx
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := ctx.Value(ctxFileID).(int64); ok {
		fields = append(fields, slog.Int64(FieldFileID, id))
	}
	if id, ok := ctx.Value(ctxJobID).(int64); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if kind, ok := ctx.Value(ctxJobKind).(string); ok {
		fields = append(fields, slog.String(FieldJobKind, kind))
	}
	if rid, ok := ctx.Value(ctxRequestID).(string); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return logger.With(args...)
}
