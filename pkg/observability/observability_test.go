package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "capability-dispatch", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Disabled providers still hand out usable tracer and meter.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTrackInvocationDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackInvocation(context.Background(), "cap.price.lookup",
		attribute.String("caller.id", "agent-1"))
	require.NotNil(t, ctx)

	time.Sleep(time.Millisecond)
	finish(nil)

	_, finish = p.TrackInvocation(context.Background(), "cap.price.lookup")
	finish(errors.New("executor unavailable"))
}

func TestRecordHelpersAreInertWhenDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordCacheHit(ctx)
	p.RecordError(ctx, errors.New("boom"))
	p.RecordDuration(ctx, 10*time.Millisecond)
}
