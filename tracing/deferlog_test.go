package tracing

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLogRecoverToReturn(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, span := provider.Tracer("test").Start(context.Background(), "run")

	func() {
		defer LogRecoverToReturn(ctx, "test.run")
		panic("boom")
	}()

	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "health.panic.loc" && kv.Value.AsString() == "test.run" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected panic location on span, got %v", spans[0].Attributes())
	}
}

func TestLogRecoverToReturnInLambda(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
		AwsRequestID: "c6af9ac6-7b61-11e6-9a41-93e812345678",
	})
	ctx, span := provider.Tracer("test").Start(ctx, "run")

	func() {
		defer LogRecoverToReturn(ctx, "test.handler")
		var m map[string]int
		m["boom"]++
	}()

	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status())
	}

	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "health.panic.invocationId" && kv.Value.AsString() == "c6af9ac6-7b61-11e6-9a41-93e812345678" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected invocation ID on span, got %v", spans[0].Attributes())
	}
}

func TestLogRecoverToReturnNoPanic(t *testing.T) {
	ran := false

	func() {
		defer LogRecoverToReturn(context.Background(), "test.run")
		ran = true
	}()

	if !ran {
		t.Error("expected function to run")
	}
}
