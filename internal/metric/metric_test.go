package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FramesRendered.Inc()
	m.TransportSends.WithLabelValues("tcp://lights:7890", "ok").Inc()
	m.EndpointStatus.WithLabelValues("tcp://lights:7890").Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesRendered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EndpointStatus.WithLabelValues("tcp://lights:7890")))
}

func TestNew_NilRegistererDoesNotPanic(t *testing.T) {
	m := New(nil)
	m.RenderErrors.WithLabelValues("fatal").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RenderErrors.WithLabelValues("fatal")))
}
