package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, span := StartSpan(context.Background(), "calibrate")
	AddTag(ctx, "option_type", "put")
	AddTag(ctx, "iterations", 19)
	AddTag(ctx, "volatility", 0.25)
	SetError(ctx, errors.New("boom"))
	SetError(ctx, nil)
	if GetTraceID(ctx) == "" {
		t.Error("expected trace id inside span")
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "calibrate" || s.Status().Code != codes.Error {
		t.Errorf("span = %s status %v", s.Name(), s.Status())
	}
	if len(s.Attributes()) != 3 {
		t.Errorf("attributes = %v", s.Attributes())
	}
}

func TestGetTraceIDWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID = %q, want empty", id)
	}
}
