package tracing

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LogRecoverToReturn is deferred by goroutines that must survive a panic. The
// panic is reported and the function returns normally
func LogRecoverToReturn(ctx context.Context, loc string) {
	if r := recover(); r != nil {
		HandleError(ctx, loc, r, string(debug.Stack()))
	}
}

// LogRecoverToExit is deferred in main. The panic is reported, buffered spans
// are sent and the process exits with status 1
func LogRecoverToExit(ctx context.Context, loc string) {
	r := recover()
	if r == nil {
		return
	}

	HandleError(ctx, loc, r, string(debug.Stack()))
	ShutdownTracer(ctx)

	os.Exit(1)
}

// HandleError reports a recovered panic to sentry, the log and the current
// span. Inside Lambda the request ID is attached so the panic can be matched
// to the invocation
func HandleError(ctx context.Context, loc string, recovered any, stack string) {
	if ctx == nil {
		ctx = context.Background()
	}

	fields := log.Fields{"loc": loc, "stack": stack}
	attrs := []attribute.KeyValue{
		attribute.String("health.panic.loc", loc),
		attribute.String("health.panic.stack", stack),
	}

	invocationID := ""
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		invocationID = lc.AwsRequestID
	}
	if invocationID != "" {
		fields["invocationId"] = invocationID
		attrs = append(attrs, attribute.String("health.panic.invocationId", invocationID))
	}

	if hub := sentry.CurrentHub(); hub != nil {
		hub = hub.Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("loc", loc)
			if invocationID != "" {
				scope.SetTag("invocationId", invocationID)
			}
		})
		hub.RecoverWithContext(ctx, recovered)
	}

	msg := fmt.Sprintf("unhandled panic in %v: %v", loc, recovered)

	// WithContext sends the entry to the span through the otellogrus hook
	log.WithContext(ctx).WithFields(fields).Error(msg)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, msg)
}
