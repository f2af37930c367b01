package driver

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const packageName = "github.com/evergreen-ci/docstore/driver"

var tracer = otel.GetTracerProvider().Tracer(packageName)

const (
	dbNameAttribute       = "docstore.db.name"
	collectionAttribute   = "docstore.db.collection"
	operationAttribute    = "docstore.db.operation"
	affectedAttribute     = "docstore.db.affected"
	writeConcernAttribute = "docstore.db.write_concern_error"
)

func startSpan(ctx context.Context, db, collection, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, operation, trace.WithAttributes(
		attribute.String(dbNameAttribute, db),
		attribute.String(collectionAttribute, collection),
		attribute.String(operationAttribute, operation),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, "database operation failed")
		span.RecordError(err)
	}
	span.End()
}
