package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrSessionID    = "session.id"
	AttrProxyID      = "proxy.id"
	AttrProxyType    = "proxy.type"
	AttrProperty     = "proxy.property"
	AttrChangeCount  = "update.changes"
	AttrDomainPasses = "domains.passes"
	AttrTouched      = "update.touched"
	AttrSource       = "store.source"
)

// Span names.
const (
	SpanSessionApply   = "session.apply"
	SpanSessionRefresh = "session.refresh"
	SpanSessionCommit  = "session.commit_all"
	SpanSessionReset   = "session.reset_all"
	SpanSessionCreate  = "session.create"
	SpanSessionDelete  = "session.delete"
	SpanSessionLoad    = "session.load"
	SpanDomainPass     = "domains.pass"
)

// Span event names.
const (
	EventAutoCommitted = "auto_commit.done"
	EventConverged     = "domains.converged"
)

// Run executes fn inside a span and records its error on the span.
func Run(ctx context.Context, tracer trace.Tracer, name string, fn func(ctx context.Context, span trace.Span) error, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
