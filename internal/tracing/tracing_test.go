package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/woodmarket/orderflow/internal/config"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(t.Context(), config.TracingConfig{ServiceName: "orderflow"}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(t.Context()))
}

func TestInit_WithExporter(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	shutdown, err := Init(t.Context(), config.TracingConfig{ExporterURL: "127.0.0.1:4318", SampleRate: 1, ServiceName: "orderflow"}, "test")
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
