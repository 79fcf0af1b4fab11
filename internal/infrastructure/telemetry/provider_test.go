package telemetry_test

import (
	"context"
	"testing"

	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "academy-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("gate"))
	assert.NotNil(t, p.Meter("gate"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	root := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: traceID, Name: "gate.admit"}

	assert.Equal(t, sdktrace.RecordAndSample, telemetry.Sampler(1).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.RecordAndSample, telemetry.Sampler(3).ShouldSample(root).Decision, "clamped to 1")
	assert.Equal(t, sdktrace.Drop, telemetry.Sampler(0).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.Drop, telemetry.Sampler(-1).ShouldSample(root).Decision, "clamped to 0")

	t.Run("sampled parent wins over ratio", func(t *testing.T) {
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		parent := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true,
		})
		child := root
		child.ParentContext = trace.ContextWithRemoteSpanContext(context.Background(), parent)
		assert.Equal(t, sdktrace.RecordAndSample, telemetry.Sampler(0).ShouldSample(child).Decision)
	})
}
