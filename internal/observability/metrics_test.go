package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestMetrics(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.OracleCall(ctx, "generate-tasks", "ok")
		m.Fallback(ctx, "generate-tasks", "timeout")
		m.Delivery(ctx, "generate-tasks", "delivered")
		m.RunDuration(ctx, "generate-tasks", time.Second)
	})
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OracleCall(context.Background(), "x", "ok")
		m.RunDuration(context.Background(), "x", time.Millisecond)
	})
}
