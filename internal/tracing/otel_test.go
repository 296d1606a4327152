package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownWithoutSetup(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}

func TestSetupInstallsProviderOnce(t *testing.T) {
	require.NoError(t, Setup(Options{ServiceName: "mika-test", Version: "0.0.0", SampleRatio: 2.5}))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	// Second call keeps the first provider.
	require.NoError(t, Setup(Options{ServiceName: "other"}))

	ctx, span := StartSpan(context.Background(), "mika.test", "test.op")
	defer span.End()
	assert.NotEmpty(t, GetTraceID(ctx), "trace id must be mirrored into the context")
}
