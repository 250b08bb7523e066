package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestSessionCountGaugeTracksSetCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionCount.Set(3)

	var out dto.Metric
	require.NoError(t, m.SessionCount.Write(&out))
	require.Equal(t, float64(3), out.GetGauge().GetValue())
}

func TestDiscoveryDroppedCounterLabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DiscoveryDropped.WithLabelValues("stale_timestamp").Inc()
	m.DiscoveryDropped.WithLabelValues("stale_timestamp").Inc()
	m.DiscoveryDropped.WithLabelValues("hmac_mismatch").Inc()

	var out dto.Metric
	require.NoError(t, m.DiscoveryDropped.WithLabelValues("stale_timestamp").Write(&out))
	require.Equal(t, float64(2), out.GetCounter().GetValue())
}
