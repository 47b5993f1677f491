package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scope names.
const (
	scopeDB        = "donation-reconciler/db"
	scopeReconcile = "donation-reconciler/reconcile"
)

// DBOperation is the kind of database operation being traced.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"
	DBOperationDelete DBOperation = "delete"
)

// StartDBSpan starts a client span for a record store operation on table.
// The returned function ends the span, recording err if non-nil.
func StartDBSpan(ctx context.Context, table string, operation DBOperation) (context.Context, func(error)) {
	ctx, span := otel.Tracer(scopeDB).Start(ctx, string(operation)+" "+table,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", string(operation)),
			attribute.String("db.sql.table", table),
		),
	)
	return ctx, endFunc(span)
}

// StartSpan starts an internal span for a reconciliation step.
//
//	ctx, endSpan := tracing.StartSpan(ctx, "webhook.dispatch", attribute.String("paystack.event", typ))
//	defer func() { endSpan(err) }()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(scopeReconcile).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, endFunc(span)
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
