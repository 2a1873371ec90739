package tracing

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTracingResource(t *testing.T) {
	resource := tracingResource("test-component")
	if resource == nil {
		t.Error("Could not initialize tracing resource. Check the log!")
	}
}

func TestTracingResourceInLambda(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "unity-sips-dev-health-reporter")
	t.Setenv("AWS_LAMBDA_FUNCTION_VERSION", "$LATEST")
	t.Setenv("AWS_REGION", "us-west-2")

	if !inLambda() {
		t.Fatal("expected to detect lambda")
	}

	resource := tracingResource("test-component")
	if resource == nil {
		t.Fatal("Could not initialize tracing resource. Check the log!")
	}

	value, ok := resource.Set().Value("faas.name")
	if !ok || value.AsString() != "unity-sips-dev-health-reporter" {
		t.Errorf("expected faas.name to be set, got %v", value.AsString())
	}
}

func TestUserAgentSampler(t *testing.T) {
	sampler := NewUserAgentSampler(0, "ELB-HealthChecker/2.0")

	probe := sampler.ShouldSample(sdktrace.SamplingParameters{
		Attributes: []attribute.KeyValue{attribute.String("user_agent.original", "ELB-HealthChecker/2.0")},
	})
	if probe.Decision != sdktrace.Drop {
		t.Errorf("expected load balancer requests to be dropped, got %v", probe.Decision)
	}

	other := sampler.ShouldSample(sdktrace.SamplingParameters{
		Attributes: []attribute.KeyValue{attribute.String("user_agent.original", "health-reporter/0.1")},
	})
	if other.Decision != sdktrace.RecordAndSample {
		t.Errorf("expected other requests to be sampled, got %v", other.Decision)
	}
}
